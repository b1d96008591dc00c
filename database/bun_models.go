package database

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/uptrace/bun"
)

// BunRun represents the extraction_runs table for Bun ORM
type BunRun struct {
	bun.BaseModel `bun:"table:extraction_runs,alias:r"`

	ID           string     `bun:"id,pk"` // ULID as string
	Path         string     `bun:"path,notnull"`
	Backend      string     `bun:"backend,notnull"`
	PageCount    int        `bun:"page_count,notnull"`
	Status       string     `bun:"status,notnull"`
	PagesOK      int        `bun:"pages_ok,notnull"`
	PagesFailed  int        `bun:"pages_failed,notnull"`
	PagesSkipped int        `bun:"pages_skipped,notnull"`
	Error        string     `bun:"error,nullzero"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
	StartedAt    *time.Time `bun:"started_at,nullzero"`
	CompletedAt  *time.Time `bun:"completed_at,nullzero"`
}

// ToRun converts BunRun to Run
func (br *BunRun) ToRun() (*Run, error) {
	parsedULID, err := ulid.Parse(br.ID)
	if err != nil {
		return nil, err
	}

	return &Run{
		ID:           parsedULID,
		Path:         br.Path,
		Backend:      br.Backend,
		PageCount:    br.PageCount,
		Status:       RunStatus(br.Status),
		PagesOK:      br.PagesOK,
		PagesFailed:  br.PagesFailed,
		PagesSkipped: br.PagesSkipped,
		Error:        br.Error,
		CreatedAt:    br.CreatedAt,
		UpdatedAt:    br.UpdatedAt,
		StartedAt:    br.StartedAt,
		CompletedAt:  br.CompletedAt,
	}, nil
}

// FromRun converts Run to BunRun
func FromRun(run *Run) *BunRun {
	return &BunRun{
		ID:           run.ID.String(),
		Path:         run.Path,
		Backend:      run.Backend,
		PageCount:    run.PageCount,
		Status:       string(run.Status),
		PagesOK:      run.PagesOK,
		PagesFailed:  run.PagesFailed,
		PagesSkipped: run.PagesSkipped,
		Error:        run.Error,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
}

// BunPageOutcome represents the page_outcomes table for Bun ORM
type BunPageOutcome struct {
	bun.BaseModel `bun:"table:page_outcomes,alias:po"`

	RunID      string    `bun:"run_id,pk"`
	Page       int       `bun:"page,pk"`
	Status     string    `bun:"status,notnull"`
	ErrorKind  string    `bun:"error_kind,nullzero"`
	Error      string    `bun:"error,nullzero"`
	Width      int       `bun:"width,notnull"`
	Height     int       `bun:"height,notnull"`
	OutputPath string    `bun:"output_path,nullzero"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// ToPageOutcome converts BunPageOutcome to PageOutcome
func (bp *BunPageOutcome) ToPageOutcome() (*PageOutcome, error) {
	parsedULID, err := ulid.Parse(bp.RunID)
	if err != nil {
		return nil, err
	}
	return &PageOutcome{
		RunID:      parsedULID,
		Page:       bp.Page,
		Status:     PageStatus(bp.Status),
		ErrorKind:  bp.ErrorKind,
		Error:      bp.Error,
		Width:      bp.Width,
		Height:     bp.Height,
		OutputPath: bp.OutputPath,
		CreatedAt:  bp.CreatedAt,
	}, nil
}

// FromPageOutcome converts PageOutcome to BunPageOutcome
func FromPageOutcome(o *PageOutcome) *BunPageOutcome {
	return &BunPageOutcome{
		RunID:      o.RunID.String(),
		Page:       o.Page,
		Status:     string(o.Status),
		ErrorKind:  o.ErrorKind,
		Error:      o.Error,
		Width:      o.Width,
		Height:     o.Height,
		OutputPath: o.OutputPath,
		CreatedAt:  o.CreatedAt,
	}
}

// BunServerConfig represents the server_config table for Bun ORM
type BunServerConfig struct {
	bun.BaseModel `bun:"table:server_config,alias:sc"`

	ID              int       `bun:"id,pk"`
	ListenAddrIP    string    `bun:"listen_addr_ip"`
	ListenAddrPort  string    `bun:"listen_addr_port,notnull"`
	IngressPath     string    `bun:"ingress_path,notnull"`
	IngressDelete   bool      `bun:"ingress_delete,notnull"`
	IngressInterval int       `bun:"ingress_interval,notnull"`
	OutputPath      string    `bun:"output_path,notnull"`
	RenderBackend   string    `bun:"render_backend,notnull"`
	RenderDPI       float64   `bun:"render_dpi,notnull"`
	MaxConcurrency  int       `bun:"max_concurrency,notnull"`
	ResultBuffer    int       `bun:"result_buffer,notnull"`
	OutputWidth     int       `bun:"output_width,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}
