package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/drummonds/pagextract/config"
	"github.com/drummonds/pagextract/database"
	"github.com/drummonds/pagextract/engine/extractor"
	"github.com/drummonds/pagextract/engine/pdfrenderer"
)

var (
	// ErrRunNotLive is returned when controlling a run this process is not executing
	ErrRunNotLive = errors.New("run is not executing")
	// ErrControlTimeout is returned when a live run did not accept a control message
	ErrControlTimeout = errors.New("run did not accept the control message")
	// ErrTooManyRuns is returned by Start while every run slot is taken
	ErrTooManyRuns = errors.New("too many runs in progress")
)

const (
	controlTimeout = 5 * time.Second
	defaultMaxRuns = 2
)

// pageFiles is the shared state of one run: every page image written so far
type pageFiles struct {
	written map[int]WrittenPage
	failed  map[int]error
}

// liveRun is a run currently executing in this process
type liveRun struct {
	run     *database.Run
	outDir  string
	control chan extractor.ControlMessage
	done    chan struct{}
	state   atomic.Int32
	result  extractor.Result
}

func (lr *liveRun) State() extractor.RunState {
	return extractor.RunState(lr.state.Load())
}

// LiveRun is a snapshot of a run executing in this process
type LiveRun struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	PageCount int    `json:"pageCount"`
	State     string `json:"state"`
	OutputDir string `json:"outputDir"`
}

// RunManager executes extraction runs in the background and records them
type RunManager struct {
	db      database.Repository
	backend pdfrenderer.Backend
	config  config.ServerConfig
	writer  PageWriter

	live  *xsync.MapOf[ulid.ULID, *liveRun]
	slots *semaphore.Weighted
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunManager creates a manager that renders with backend and records into db
func NewRunManager(db database.Repository, backend pdfrenderer.Backend, serverConfig config.ServerConfig) *RunManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &RunManager{
		db:      db,
		backend: backend,
		config:  serverConfig,
		writer:  PageWriter{Width: serverConfig.OutputWidth},
		live:    xsync.NewMapOf[ulid.ULID, *liveRun](),
		slots:   semaphore.NewWeighted(int64(maxRuns(serverConfig))),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Backend returns the render backend runs use
func (m *RunManager) Backend() pdfrenderer.Backend { return m.backend }

func maxRuns(serverConfig config.ServerConfig) int {
	if serverConfig.MaxRuns > 0 {
		return serverConfig.MaxRuns
	}
	return defaultMaxRuns
}

func capacityFunc(serverConfig config.ServerConfig) extractor.CapacityFunc {
	if serverConfig.MaxConcurrency > 0 {
		return extractor.FixedCapacity(serverConfig.MaxConcurrency)
	}
	return extractor.HostCapacity
}

func (m *RunManager) capacity() extractor.CapacityFunc {
	return capacityFunc(m.config)
}

// RenderInstances is how many backend contexts the runs of serverConfig can
// hold at once. Backends with a bounded instance pool are sized from it.
func RenderInstances(serverConfig config.ServerConfig) int {
	return pdfrenderer.InstanceBudget(maxRuns(serverConfig), capacityFunc(serverConfig)())
}

// Start opens the document at path and begins rendering it in the background.
// A document that cannot be opened is still recorded, as a failed run. While
// every run slot is taken Start returns ErrTooManyRuns without recording.
func (m *RunManager) Start(path string) (*database.Run, error) {
	if err := m.ctx.Err(); err != nil {
		return nil, fmt.Errorf("run manager is shut down: %w", err)
	}
	if !m.slots.TryAcquire(1) {
		return nil, ErrTooManyRuns
	}
	started := false
	defer func() {
		if !started {
			m.slots.Release(1)
		}
	}()

	session, err := extractor.Open(m.backend, path)
	if err != nil {
		Logger.Error("Unable to open document for extraction", "path", path, "error", err)
		run, dbErr := m.db.CreateRun(path, m.backend.Name(), 0)
		if dbErr != nil {
			return nil, errors.Join(err, dbErr)
		}
		if dbErr := m.db.FailRun(run.ID, err.Error()); dbErr != nil {
			Logger.Error("Failed to record failed run", "runID", run.ID, "error", dbErr)
		}
		run.Status = database.RunStatusFailed
		run.Error = err.Error()
		return run, err
	}

	run, err := m.db.CreateRun(path, m.backend.Name(), session.PageCount)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	outDir := filepath.Join(m.config.OutputPath, run.ID.String())
	if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
		session.Close()
		m.db.FailRun(run.ID, err.Error())
		return nil, fmt.Errorf("unable to create output directory: %w", err)
	}

	lr := &liveRun{
		run:     run,
		outDir:  outDir,
		control: make(chan extractor.ControlMessage),
		done:    make(chan struct{}),
	}
	m.live.Store(run.ID, lr)
	m.wg.Add(1)
	started = true

	Logger.Info("Extraction run started", "runID", run.ID, "path", path, "pages", session.PageCount)
	go m.execute(lr, session)
	return run, nil
}

// execute drives one run. The orchestrator and the outcome consumer run as
// one errgroup; the session is only closed once every worker has released
// its handles.
func (m *RunManager) execute(lr *liveRun, session *extractor.Session) {
	defer m.wg.Done()
	defer close(lr.done)
	// the slot is free before waiters see done
	defer m.slots.Release(1)
	defer m.live.Delete(lr.run.ID)

	runID := lr.run.ID
	sink := extractor.NewSink(m.config.ResultBuffer)
	state := extractor.NewSharedState(pageFiles{written: map[int]WrittenPage{}, failed: map[int]error{}})
	var workers sync.WaitGroup

	g, gctx := errgroup.WithContext(m.ctx)
	g.Go(func() error {
		defer sink.Close()
		res, err := extractor.Run(gctx, session, m.savePage(lr.outDir), sink, state, lr.control,
			extractor.WithCapacityFunc(m.capacity()),
			extractor.WithWorkerGroup(&workers),
			extractor.WithStateHook(func(s extractor.RunState) { m.stateChanged(lr, s) }))
		lr.result = res
		return err
	})
	g.Go(func() error {
		for outcome := range sink.Outcomes() {
			m.recordOutcome(runID, outcome, state)
		}
		return nil
	})

	runErr := g.Wait()
	workers.Wait()
	session.Close()

	status := database.RunStatusCompleted
	if lr.result.State != extractor.Completed {
		status = database.RunStatusCancelled
	}
	if err := m.db.CompleteRun(runID, status); err != nil {
		Logger.Error("Failed to finish run", "runID", runID, "error", err)
	}
	Logger.Info("Extraction run finished", "runID", runID, "status", status,
		"scheduled", lr.result.Scheduled, "skipped", lr.result.Skipped, "error", runErr)
}

// savePage is the page callback: it writes the image and remembers where
func (m *RunManager) savePage(dir string) extractor.Callback[pageFiles] {
	return func(page int, img []byte, width, height, channels int, state *extractor.SharedState[pageFiles]) {
		written, err := m.writer.Write(dir, page, img, width, height)
		state.Update(func(files *pageFiles) {
			if err != nil {
				files.failed[page] = err
				return
			}
			files.written[page] = written
		})
	}
}

func (m *RunManager) stateChanged(lr *liveRun, s extractor.RunState) {
	defer lr.state.Store(int32(s))
	var status database.RunStatus
	switch s {
	case extractor.Running:
		status = database.RunStatusRunning
	case extractor.Paused:
		status = database.RunStatusPaused
	default:
		return
	}
	if err := m.db.MarkRunStatus(lr.run.ID, status); err != nil {
		Logger.Error("Failed to update run status", "runID", lr.run.ID, "status", status, "error", err)
	}
}

func (m *RunManager) recordOutcome(runID ulid.ULID, o extractor.PageOutcome, state *extractor.SharedState[pageFiles]) {
	record := &database.PageOutcome{RunID: runID, Page: o.Page, Status: database.PageStatusOK}

	if o.Err != nil {
		record.Status = database.PageStatusFailed
		record.Error = o.Err.Error()
		kind := extractor.KindOf(o.Err)
		if kind != 0 {
			record.ErrorKind = kind.String()
		}
		if kind == extractor.CloneContextFailure || kind == extractor.CloneDocumentFailure {
			record.Status = database.PageStatusSkipped
		}
	} else {
		var written WrittenPage
		var writeErr error
		state.Update(func(files *pageFiles) {
			written = files.written[o.Page]
			writeErr = files.failed[o.Page]
			delete(files.written, o.Page)
			delete(files.failed, o.Page)
		})
		if writeErr != nil {
			record.Status = database.PageStatusFailed
			record.ErrorKind = "output write failure"
			record.Error = writeErr.Error()
		} else {
			record.OutputPath = written.Path
			record.Width = written.Width
			record.Height = written.Height
		}
	}

	if err := m.db.RecordPageOutcome(record); err != nil {
		Logger.Error("Failed to record page outcome", "runID", runID, "page", o.Page, "error", err)
	}
}

func (m *RunManager) send(id ulid.ULID, msg extractor.ControlMessage) error {
	lr, ok := m.live.Load(id)
	if !ok {
		return ErrRunNotLive
	}
	timer := time.NewTimer(controlTimeout)
	defer timer.Stop()
	select {
	case lr.control <- msg:
		Logger.Info("Control message sent", "runID", id, "message", msg.String())
		return nil
	case <-lr.done:
		return ErrRunNotLive
	case <-timer.C:
		return ErrControlTimeout
	}
}

// Pause stops a live run from scheduling more pages
func (m *RunManager) Pause(id ulid.ULID) error { return m.send(id, extractor.Pause) }

// Resume continues a paused run
func (m *RunManager) Resume(id ulid.ULID) error { return m.send(id, extractor.Resume) }

// Stop aborts a live run. Pages already rendering finish but are not recorded.
func (m *RunManager) Stop(id ulid.ULID) error { return m.send(id, extractor.Stop) }

// Wait blocks until the run has finished or ctx is done
func (m *RunManager) Wait(ctx context.Context, id ulid.ULID) error {
	lr, ok := m.live.Load(id)
	if !ok {
		return nil
	}
	select {
	case <-lr.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OutputDir is where the pages of run id are written
func (m *RunManager) OutputDir(id ulid.ULID) string {
	return filepath.Join(m.config.OutputPath, id.String())
}

// Active lists the runs executing in this process
func (m *RunManager) Active() []LiveRun {
	var runs []LiveRun
	m.live.Range(func(id ulid.ULID, lr *liveRun) bool {
		runs = append(runs, LiveRun{
			ID:        id.String(),
			Path:      lr.run.Path,
			PageCount: lr.run.PageCount,
			State:     lr.State().String(),
			OutputDir: lr.outDir,
		})
		return true
	})
	return runs
}

// Shutdown cancels every live run and waits for them to be recorded
func (m *RunManager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
