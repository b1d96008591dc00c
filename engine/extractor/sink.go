package extractor

import (
	"context"
	"sync"
)

// DefaultSinkCapacity is the outcome buffer used when none is configured
const DefaultSinkCapacity = 100

// PageOutcome is the result for one page. Err is nil on success and a
// *PageRenderError otherwise.
type PageOutcome struct {
	Page int
	Err  error
}

// OK reports whether the page rendered
func (o PageOutcome) OK() bool { return o.Err == nil }

// Sink carries page outcomes from many workers to a single consumer
type Sink struct {
	ch      chan PageOutcome
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	senders sync.WaitGroup
	once    sync.Once
}

// NewSink creates a sink buffering up to capacity outcomes
func NewSink(capacity int) *Sink {
	if capacity < 1 {
		capacity = DefaultSinkCapacity
	}
	return &Sink{
		ch:   make(chan PageOutcome, capacity),
		done: make(chan struct{}),
	}
}

// Outcomes is the consumer side. It is closed after Close once every
// in-flight send has finished.
func (s *Sink) Outcomes() <-chan PageOutcome { return s.ch }

func (s *Sink) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.senders.Add(1)
	return true
}

// Send delivers o, blocking while the sink is full. It gives up when ctx is
// done or the sink is closed and reports whether o was delivered.
func (s *Sink) Send(ctx context.Context, o PageOutcome) bool {
	if !s.enter() {
		return false
	}
	defer s.senders.Done()
	select {
	case s.ch <- o:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// TrySend delivers o only if there is room right now
func (s *Sink) TrySend(o PageOutcome) bool {
	if !s.enter() {
		return false
	}
	defer s.senders.Done()
	select {
	case s.ch <- o:
		return true
	default:
		return false
	}
}

// Close stops accepting outcomes. Buffered outcomes stay readable.
func (s *Sink) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		s.senders.Wait()
		close(s.ch)
	})
}

// Tally aggregates outcomes
type Tally struct {
	Succeeded int
	Failed    int
	ByKind    map[Kind]int
}

// Total is the number of outcomes seen
func (t Tally) Total() int { return t.Succeeded + t.Failed }

func (t *Tally) add(o PageOutcome) {
	if o.OK() {
		t.Succeeded++
		return
	}
	t.Failed++
	if t.ByKind == nil {
		t.ByKind = make(map[Kind]int)
	}
	t.ByKind[KindOf(o.Err)]++
}

// Collect reads outcomes until the sink is closed and drained or ctx is done,
// passing each to fn when it is not nil
func (s *Sink) Collect(ctx context.Context, fn func(PageOutcome)) Tally {
	var tally Tally
	for {
		select {
		case o, ok := <-s.ch:
			if !ok {
				return tally
			}
			tally.add(o)
			if fn != nil {
				fn(o)
			}
		case <-ctx.Done():
			return tally
		}
	}
}
