package database

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// RunStatus represents the status of an extraction run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether a run in this status can still change
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// PageStatus is the outcome of a single page
type PageStatus string

const (
	PageStatusOK      PageStatus = "ok"
	PageStatusFailed  PageStatus = "failed"
	PageStatusSkipped PageStatus = "skipped" // no task ran, handles could not be cloned
)

// Run is one extraction of one document
type Run struct {
	ID           ulid.ULID  `json:"id"`
	Path         string     `json:"path"`
	Backend      string     `json:"backend"`
	PageCount    int        `json:"pageCount"`
	Status       RunStatus  `json:"status"`
	PagesOK      int        `json:"pagesOk"`
	PagesFailed  int        `json:"pagesFailed"`
	PagesSkipped int        `json:"pagesSkipped"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// Progress is the percentage of pages with a recorded outcome
func (r Run) Progress() int {
	if r.PageCount <= 0 {
		return 0
	}
	done := r.PagesOK + r.PagesFailed + r.PagesSkipped
	return min(done*100/r.PageCount, 100)
}

// PageOutcome is the stored result for one page of a run
type PageOutcome struct {
	RunID      ulid.ULID  `json:"runId"`
	Page       int        `json:"page"`
	Status     PageStatus `json:"status"`
	ErrorKind  string     `json:"errorKind,omitempty"`
	Error      string     `json:"error,omitempty"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	OutputPath string     `json:"outputPath,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}
