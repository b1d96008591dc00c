package pdfrenderer

import (
	"errors"
	"fmt"

	"github.com/gen2brain/go-fitz"
)

type fitzContext struct {
	cache *renderCache
}

type fitzDocument struct {
	doc *fitz.Document
	ctx Handle
}

// FitzBackend implements Backend using go-fitz (requires CGo and MuPDF).
// go-fitz keeps one MuPDF context per document, so a cloned context here is
// the per-thread render cache and the document clone carries the MuPDF state.
type FitzBackend struct {
	cfg       Config
	contexts  *handleTable[*fitzContext]
	documents *handleTable[*fitzDocument]
	pool      *contextPool[*fitzContext]
}

// NewFitzBackend creates a new Fitz-based page renderer
func NewFitzBackend(cfg Config) *FitzBackend {
	cfg = cfg.withDefaults()
	return &FitzBackend{
		cfg:       cfg,
		contexts:  newHandleTable[*fitzContext](),
		documents: newHandleTable[*fitzDocument](),
		pool: newContextPool(cfg.MaxContexts,
			func(c *fitzContext) { c.cache.flush() },
			func(*fitzContext) {}),
	}
}

// Name implements Backend
func (b *FitzBackend) Name() string { return "fitz" }

// Init opens the base document
func (b *FitzBackend) Init(path string) (Handle, Handle, int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return NilHandle, NilHandle, 0, fmt.Errorf("failed to open document at path %s: %w", path, err)
	}
	ctx := b.contexts.register(&fitzContext{cache: &renderCache{}})
	pages := doc.NumPage()
	docHandle := b.documents.register(&fitzDocument{doc: doc, ctx: ctx})
	Logger.Debug("Opened document with go-fitz", "path", path, "pages", pages)
	return docHandle, ctx, pages, nil
}

// CloneContext hands out a pooled context or creates a fresh one
func (b *FitzBackend) CloneContext(ctx Handle) (Handle, error) {
	if _, ok := b.contexts.lookup(ctx); !ok {
		return NilHandle, errors.New("passed an unknown context when trying to clone context")
	}
	if c, ok := b.pool.get(); ok {
		return b.contexts.register(c), nil
	}
	return b.contexts.register(&fitzContext{cache: &renderCache{}}), nil
}

// CloneDocument opens the document again for a single worker
func (b *FitzBackend) CloneDocument(path string, ctx Handle) (Handle, error) {
	if _, ok := b.contexts.lookup(ctx); !ok {
		return NilHandle, errors.New("passed an unknown context when trying to clone document")
	}
	doc, err := fitz.New(path)
	if err != nil {
		return NilHandle, fmt.Errorf("failed to clone document: %w", err)
	}
	if doc.NumPage() <= 0 {
		doc.Close()
		return NilHandle, errors.New("failed to clone document: document has no valid pages")
	}
	return b.documents.register(&fitzDocument{doc: doc, ctx: ctx}), nil
}

// RenderPage rasterises page at the configured DPI and encodes it as bilevel PNG
func (b *FitzBackend) RenderPage(page int, ctx, doc Handle) (*Image, error) {
	c, ok := b.contexts.lookup(ctx)
	if !ok {
		return nil, errors.New("invalid context handle")
	}
	d, ok := b.documents.lookup(doc)
	if !ok {
		return nil, errors.New("invalid document handle")
	}

	total := d.doc.NumPage()
	if total <= 0 {
		return nil, fmt.Errorf("%w: no valid pages found", ErrDocumentCorrupted)
	}
	if page < 0 || page >= total {
		return nil, fmt.Errorf("attempted to access page %d but document only has %d pages", page, total)
	}

	rgba, err := d.doc.ImageDPI(page, b.cfg.DPI)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %v", page, err)
	}
	img, err := encodeBilevel(rgba, c.cache)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %v", page, err)
	}
	return img, nil
}

// FreeImage implements Backend
func (b *FitzBackend) FreeImage(img *Image) { freeImage(img) }

// FlushCache drops the scratch buffers held by ctx
func (b *FitzBackend) FlushCache(ctx Handle) {
	if c, ok := b.contexts.lookup(ctx); ok {
		c.cache.flush()
	}
}

// Cleanup closes the document and returns the context to the pool
func (b *FitzBackend) Cleanup(doc, ctx Handle) {
	if d, ok := b.documents.take(doc); ok {
		if err := d.doc.Close(); err != nil {
			Logger.Warn("Error while dropping document", "error", err)
		}
	}
	if c, ok := b.contexts.take(ctx); ok {
		b.pool.put(c)
	}
}

// Close releases every document still open
func (b *FitzBackend) Close() error {
	b.documents.drain(func(d *fitzDocument) { d.doc.Close() })
	b.contexts.drain(func(*fitzContext) {})
	b.pool.close()
	return nil
}
