package extractor

import (
	"sync/atomic"

	"github.com/drummonds/pagextract/engine/pdfrenderer"
)

// HandlePair is a worker's private context/document clone. It is released
// exactly once no matter how many times Release is called or from where.
type HandlePair struct {
	Ctx pdfrenderer.Handle
	Doc pdfrenderer.Handle

	backend  pdfrenderer.Backend
	released atomic.Bool
}

func newHandlePair(backend pdfrenderer.Backend, ctx, doc pdfrenderer.Handle) *HandlePair {
	return &HandlePair{Ctx: ctx, Doc: doc, backend: backend}
}

// Release hands both handles back to the backend. It reports whether this
// call performed the release.
func (p *HandlePair) Release() bool {
	if !p.released.CompareAndSwap(false, true) {
		return false
	}
	p.backend.Cleanup(p.Doc, p.Ctx)
	return true
}

// Released reports whether the pair has been given back
func (p *HandlePair) Released() bool {
	return p.released.Load()
}

// Use runs fn with the pair and releases it afterwards, including when fn panics
func (p *HandlePair) Use(fn func(ctx, doc pdfrenderer.Handle) error) error {
	defer p.Release()
	return fn(p.Ctx, p.Doc)
}
