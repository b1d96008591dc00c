package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// BatchSize bounds how many tasks are started per scheduling step
const BatchSize = 4

// ControlMessage steers a running extraction
type ControlMessage int

const (
	Stop ControlMessage = iota + 1
	Pause
	Resume
)

func (m ControlMessage) String() string {
	switch m {
	case Stop:
		return "stop"
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	default:
		return fmt.Sprintf("control(%d)", int(m))
	}
}

// RunState is the orchestrator lifecycle
type RunState int

const (
	Running RunState = iota
	Paused
	Draining
	Completed
	Aborted
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen
func (s RunState) Terminal() bool { return s == Completed || s == Aborted }

// Result summarises a finished run
type Result struct {
	State     RunState
	Pages     int
	Scheduled int // pages a worker was started for
	Skipped   int // pages dropped because cloning failed
	Completed int // workers whose completion the loop observed
}

type options struct {
	capacity CapacityFunc
	hook     func(RunState)
	workers  *sync.WaitGroup
	tracing  trace.TracerProvider
}

// Option configures Run
type Option func(*options)

// WithCapacity fixes the number of concurrently active page tasks
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = FixedCapacity(n) }
}

// WithCapacityFunc sizes the pool with f, consulted once at the start of a run
func WithCapacityFunc(f CapacityFunc) Option {
	return func(o *options) {
		if f != nil {
			o.capacity = f
		}
	}
}

// WithStateHook calls fn on every state transition, from the orchestrator goroutine
func WithStateHook(fn func(RunState)) Option {
	return func(o *options) { o.hook = fn }
}

// WithWorkerGroup tracks every started worker in wg. Run does not wait for
// workers after a stop, so callers that need every handle released before
// closing the session wait on wg.
func WithWorkerGroup(wg *sync.WaitGroup) Option {
	return func(o *options) { o.workers = wg }
}

// WithTracerProvider records page spans with tp instead of the global provider
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracing = tp }
}

type orchestrator[T any] struct {
	session *Session
	control <-chan ControlMessage
	done    chan completion
	factory *taskFactory[T]
	hook    func(RunState)

	capacity int
	next     int
	active   int
	result   Result
}

// Run renders every page of session, calling cb for each rendered page and
// reporting every outcome to sink. Messages on control pause, resume or stop
// the run; a nil control channel behaves like one that is already closed.
// Run returns once all pages have been drained or the run is stopped. The
// sink is left open.
func Run[T any](ctx context.Context, session *Session, cb Callback[T], sink *Sink, state *SharedState[T], control <-chan ControlMessage, opts ...Option) (Result, error) {
	o := options{capacity: HostCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	if session == nil || session.Closed() {
		return Result{State: Aborted}, ErrSessionClosed
	}
	if sink == nil {
		return Result{State: Aborted}, fmt.Errorf("no result sink supplied")
	}
	if o.workers == nil {
		o.workers = &sync.WaitGroup{}
	}
	if o.tracing == nil {
		o.tracing = otel.GetTracerProvider()
	}

	capacity := o.capacity()
	if capacity < 1 {
		capacity = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan completion, capacity)
	orch := &orchestrator[T]{
		session: session,
		control: control,
		done:    done,
		hook:    o.hook,
		factory: &taskFactory[T]{
			session:  session,
			callback: cb,
			state:    state,
			sink:     sink,
			done:     done,
			workers:  o.workers,
			tracer:   o.tracing.Tracer(tracerName),
		},
		capacity: capacity,
		result:   Result{Pages: session.PageCount},
	}
	if control == nil {
		orch.setState(Draining)
	} else {
		orch.setState(Running)
	}

	Logger.Info("Starting page extraction", "path", session.Path, "pages", session.PageCount, "capacity", capacity)
	err := orch.loop(runCtx)
	Logger.Info("Page extraction finished", "path", session.Path, "state", orch.result.State.String(),
		"scheduled", orch.result.Scheduled, "skipped", orch.result.Skipped, "completed", orch.result.Completed)
	return orch.result, err
}

func (o *orchestrator[T]) setState(s RunState) {
	o.result.State = s
	Logger.Debug("Extraction state change", "path", o.session.Path, "state", s.String())
	if o.hook != nil {
		o.hook(s)
	}
}

func (o *orchestrator[T]) loop(ctx context.Context) error {
	pages := o.session.PageCount
	for {
		if o.control != nil {
			select {
			case msg, ok := <-o.control:
				if stop, err := o.handleControl(ctx, msg, ok); stop {
					return err
				}
				continue
			default:
			}
		}
		if err := ctx.Err(); err != nil {
			o.setState(Aborted)
			return err
		}

		if o.next < pages && o.active < o.capacity {
			o.schedule(ctx, min(o.capacity-o.active, BatchSize, pages-o.next))
			continue
		}

		if o.next >= pages && o.active == 0 {
			o.setState(Completed)
			return nil
		}

		select {
		case c := <-o.done:
			o.complete(c)
		case msg, ok := <-o.control:
			if stop, err := o.handleControl(ctx, msg, ok); stop {
				return err
			}
		case <-ctx.Done():
			o.setState(Aborted)
			return ctx.Err()
		}
	}
}

// schedule starts up to n tasks for the next unscheduled pages in order
func (o *orchestrator[T]) schedule(ctx context.Context, n int) {
	for i := 0; i < n; i++ {
		page := o.next
		o.next++
		if o.factory.spawn(ctx, page) {
			o.active++
			o.result.Scheduled++
		} else {
			o.result.Skipped++
		}
	}
}

func (o *orchestrator[T]) complete(c completion) {
	if o.active == 0 {
		panic(fmt.Sprintf("extractor: completion for page %d with no active tasks", c.page))
	}
	o.active--
	o.result.Completed++
}

// handleControl applies one message and reports whether the loop must exit
func (o *orchestrator[T]) handleControl(ctx context.Context, msg ControlMessage, ok bool) (bool, error) {
	if !ok {
		o.control = nil
		o.setState(Draining)
		return false, nil
	}
	switch msg {
	case Stop:
		Logger.Info("Stop requested", "path", o.session.Path, "active", o.active)
		o.setState(Aborted)
		return true, nil
	case Pause:
		return o.paused(ctx)
	case Resume:
		return false, nil
	default:
		Logger.Warn("Ignoring unknown control message", "message", msg.String())
		return false, nil
	}
}

// paused blocks on control messages only. Active tasks carry on and their
// completions wait in the buffer until scheduling resumes.
func (o *orchestrator[T]) paused(ctx context.Context) (bool, error) {
	Logger.Info("Extraction paused", "path", o.session.Path, "next_page", o.next, "active", o.active)
	o.setState(Paused)
	for {
		select {
		case msg, ok := <-o.control:
			if !ok {
				Logger.Warn("Control channel closed while paused, aborting", "path", o.session.Path)
				o.control = nil
				o.setState(Aborted)
				return true, nil
			}
			switch msg {
			case Resume:
				Logger.Info("Extraction resumed", "path", o.session.Path, "next_page", o.next)
				o.setState(Running)
				return false, nil
			case Stop:
				Logger.Info("Stop requested while paused", "path", o.session.Path)
				o.setState(Aborted)
				return true, nil
			}
		case <-ctx.Done():
			o.setState(Aborted)
			return true, ctx.Err()
		}
	}
}
