package pdfrenderer

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// handleSeq is shared by all tables so a handle is never valid in two of them
var handleSeq atomic.Uint64

// handleTable maps opaque handles to backend resources
type handleTable[V any] struct {
	entries *xsync.MapOf[Handle, V]
}

func newHandleTable[V any]() *handleTable[V] {
	return &handleTable[V]{entries: xsync.NewMapOf[Handle, V]()}
}

func (t *handleTable[V]) register(v V) Handle {
	h := Handle(handleSeq.Add(1))
	t.entries.Store(h, v)
	return h
}

func (t *handleTable[V]) lookup(h Handle) (V, bool) {
	if h.IsNil() {
		var zero V
		return zero, false
	}
	return t.entries.Load(h)
}

// take removes h so only one caller ever releases the resource
func (t *handleTable[V]) take(h Handle) (V, bool) {
	if h.IsNil() {
		var zero V
		return zero, false
	}
	return t.entries.LoadAndDelete(h)
}

func (t *handleTable[V]) size() int {
	return t.entries.Size()
}

// drain removes every entry and hands it to fn
func (t *handleTable[V]) drain(fn func(V)) {
	t.entries.Range(func(h Handle, _ V) bool {
		if v, ok := t.entries.LoadAndDelete(h); ok {
			fn(v)
		}
		return true
	})
}

// contextPool keeps released contexts for reuse, flushing them on the way in.
// Contexts over the limit are handed to discard.
type contextPool[C any] struct {
	mu      sync.Mutex
	free    []C
	limit   int
	flush   func(C)
	discard func(C)
}

func newContextPool[C any](limit int, flush, discard func(C)) *contextPool[C] {
	return &contextPool[C]{limit: limit, flush: flush, discard: discard}
}

func (p *contextPool[C]) get() (C, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero C
	if len(p.free) == 0 {
		return zero, false
	}
	c := p.free[len(p.free)-1]
	p.free[len(p.free)-1] = zero
	p.free = p.free[:len(p.free)-1]
	return c, true
}

func (p *contextPool[C]) put(c C) {
	p.flush(c)
	p.mu.Lock()
	if len(p.free) < p.limit {
		p.free = append(p.free, c)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.discard(c)
}

func (p *contextPool[C]) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *contextPool[C]) close() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()
	for _, c := range free {
		p.discard(c)
	}
}
