package extractor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/drummonds/pagextract/engine/pdfrenderer"
)

// Session owns the base native handles of one open document. Workers never
// touch the base handles directly, they only clone from them.
type Session struct {
	Path      string
	PageCount int

	backend pdfrenderer.Backend

	mu  sync.RWMutex
	doc pdfrenderer.Handle
	ctx pdfrenderer.Handle
}

// Open initialises backend against the document at path
func Open(backend pdfrenderer.Backend, path string) (*Session, error) {
	if backend == nil {
		return nil, errors.New("no render backend supplied")
	}
	Logger.Debug("Initializing document", "path", path, "backend", backend.Name())

	doc, ctx, pages, err := backend.Init(path)
	if err != nil {
		return nil, newPageError(InitializationFailure, -1, err.Error())
	}
	if pages < 0 {
		backend.Cleanup(doc, ctx)
		return nil, newPageError(InitializationFailure, -1, fmt.Sprintf("backend reported %d pages", pages))
	}

	Logger.Debug("Document initialized", "path", path, "pages", pages)
	return &Session{
		Path:      path,
		PageCount: pages,
		backend:   backend,
		doc:       doc,
		ctx:       ctx,
	}, nil
}

// Backend returns the backend the session was opened with
func (s *Session) Backend() pdfrenderer.Backend { return s.backend }

// CloneContext creates a private context for one worker
func (s *Session) CloneContext() (pdfrenderer.Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ctx.IsNil() {
		return pdfrenderer.NilHandle, errors.New("Base context handle is null")
	}
	ctx, err := s.backend.CloneContext(s.ctx)
	if err != nil {
		return pdfrenderer.NilHandle, fmt.Errorf("failed to clone context: %w", err)
	}
	if ctx.IsNil() {
		return pdfrenderer.NilHandle, errors.New("cloned context is null")
	}
	return ctx, nil
}

// CloneDocument opens a private copy of the document bound to ctx
func (s *Session) CloneDocument(ctx pdfrenderer.Handle) (pdfrenderer.Handle, error) {
	doc, err := s.backend.CloneDocument(s.Path, ctx)
	if err != nil {
		return pdfrenderer.NilHandle, fmt.Errorf("failed to clone document: %w", err)
	}
	if doc.IsNil() {
		return pdfrenderer.NilHandle, errors.New("cloned document is null")
	}
	return doc, nil
}

// Closed reports whether the base handles have been released
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.IsNil() && s.ctx.IsNil()
}

// Close releases the base handles. Calling it again does nothing.
func (s *Session) Close() error {
	s.mu.Lock()
	doc, ctx := s.doc, s.ctx
	s.doc, s.ctx = pdfrenderer.NilHandle, pdfrenderer.NilHandle
	s.mu.Unlock()

	if doc.IsNil() && ctx.IsNil() {
		return nil
	}
	s.backend.Cleanup(doc, ctx)
	Logger.Debug("Released document session", "path", s.Path)
	return nil
}
