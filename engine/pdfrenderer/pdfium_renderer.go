package pdfrenderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// instanceTimeout bounds the wait for a free WebAssembly worker
const instanceTimeout = 30 * time.Second

type pdfiumContext struct {
	instance pdfium.Pdfium
	cache    *renderCache
}

type pdfiumDocument struct {
	ctx      Handle
	instance pdfium.Pdfium
	document references.FPDF_DOCUMENT
}

// PDFiumBackend implements Backend using go-pdfium with WebAssembly (pure Go, no CGo).
// Every context is its own PDFium instance, so cloned contexts never share state.
type PDFiumBackend struct {
	cfg       Config
	pool      pdfium.Pool
	contexts  *handleTable[*pdfiumContext]
	documents *handleTable[*pdfiumDocument]
	free      *contextPool[*pdfiumContext]
}

// NewPDFiumBackend creates a new PDFium-based renderer using WebAssembly
func NewPDFiumBackend(cfg Config) (*PDFiumBackend, error) {
	cfg = cfg.withDefaults()
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  cfg.MaxInstances,
		MaxTotal: cfg.MaxInstances,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	b := &PDFiumBackend{
		cfg:       cfg,
		pool:      pool,
		contexts:  newHandleTable[*pdfiumContext](),
		documents: newHandleTable[*pdfiumDocument](),
	}
	b.free = newContextPool(cfg.MaxContexts,
		func(c *pdfiumContext) { c.cache.flush() },
		func(c *pdfiumContext) { closeInstance(c.instance) })
	return b, nil
}

// Name implements Backend
func (b *PDFiumBackend) Name() string { return "pdfium" }

func closeInstance(instance pdfium.Pdfium) {
	if err := instance.Close(); err != nil {
		Logger.Warn("Failed to close PDFium instance", "error", err)
	}
}

// newContext reuses a pooled context before checking a fresh instance out,
// so instances are only added when every held one is in use
func (b *PDFiumBackend) newContext() (*pdfiumContext, error) {
	if c, ok := b.free.get(); ok {
		return c, nil
	}
	instance, err := b.pool.GetInstance(instanceTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}
	return &pdfiumContext{instance: instance, cache: &renderCache{}}, nil
}

func (b *PDFiumBackend) openDocument(c *pdfiumContext, path string) (references.FPDF_DOCUMENT, int, error) {
	doc, err := c.instance.OpenDocument(&requests.OpenDocument{FilePath: &path})
	if err != nil {
		return "", 0, err
	}
	count, err := c.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: doc.Document})
	if err != nil {
		c.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		return "", 0, fmt.Errorf("unable to get page count: %w", err)
	}
	return doc.Document, count.PageCount, nil
}

// Init opens the base document on its own instance
func (b *PDFiumBackend) Init(path string) (Handle, Handle, int, error) {
	c, err := b.newContext()
	if err != nil {
		return NilHandle, NilHandle, 0, err
	}
	doc, pages, err := b.openDocument(c, path)
	if err != nil {
		closeInstance(c.instance)
		return NilHandle, NilHandle, 0, fmt.Errorf("failed to open document at path %s: %w", path, err)
	}
	ctx := b.contexts.register(c)
	docHandle := b.documents.register(&pdfiumDocument{ctx: ctx, instance: c.instance, document: doc})
	Logger.Debug("Opened document with PDFium", "path", path, "pages", pages)
	return docHandle, ctx, pages, nil
}

// CloneContext hands out a pooled instance or checks a new one out of the WebAssembly pool
func (b *PDFiumBackend) CloneContext(ctx Handle) (Handle, error) {
	if _, ok := b.contexts.lookup(ctx); !ok {
		return NilHandle, errors.New("passed an unknown context when trying to clone context")
	}
	c, err := b.newContext()
	if err != nil {
		return NilHandle, err
	}
	return b.contexts.register(c), nil
}

// CloneDocument opens path on the instance behind ctx
func (b *PDFiumBackend) CloneDocument(path string, ctx Handle) (Handle, error) {
	c, ok := b.contexts.lookup(ctx)
	if !ok {
		return NilHandle, errors.New("passed an unknown context when trying to clone document")
	}
	doc, pages, err := b.openDocument(c, path)
	if err != nil {
		return NilHandle, fmt.Errorf("failed to clone document: %w", err)
	}
	if pages <= 0 {
		c.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc})
		return NilHandle, errors.New("failed to clone document: document has no valid pages")
	}
	return b.documents.register(&pdfiumDocument{ctx: ctx, instance: c.instance, document: doc}), nil
}

// RenderPage rasterises page at the configured DPI and encodes it as bilevel PNG
func (b *PDFiumBackend) RenderPage(page int, ctx, doc Handle) (*Image, error) {
	c, ok := b.contexts.lookup(ctx)
	if !ok {
		return nil, errors.New("invalid context handle")
	}
	d, ok := b.documents.lookup(doc)
	if !ok {
		return nil, errors.New("invalid document handle")
	}

	count, err := c.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{Document: d.document})
	if err != nil {
		return nil, fmt.Errorf("%w: unable to count pages: %v", ErrDocumentCorrupted, err)
	}
	if count.PageCount <= 0 {
		return nil, fmt.Errorf("%w: no valid pages found", ErrDocumentCorrupted)
	}
	if page < 0 || page >= count.PageCount {
		return nil, fmt.Errorf("attempted to access page %d but document only has %d pages", page, count.PageCount)
	}

	pageRender, err := c.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: int(b.cfg.DPI),
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: d.document,
				Index:    page,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %v", page, err)
	}
	defer pageRender.Cleanup()
	if pageRender.Result.Image == nil {
		return nil, errors.New("failed to create pixmap: Unknown error")
	}

	img, err := encodeBilevel(pageRender.Result.Image, c.cache)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %v", page, err)
	}
	return img, nil
}

// FreeImage implements Backend
func (b *PDFiumBackend) FreeImage(img *Image) { freeImage(img) }

// FlushCache drops the scratch buffers held by ctx. PDFium itself drops page
// state after every render.
func (b *PDFiumBackend) FlushCache(ctx Handle) {
	if c, ok := b.contexts.lookup(ctx); ok {
		c.cache.flush()
	}
}

// Cleanup closes the document and returns the instance to the context pool
func (b *PDFiumBackend) Cleanup(doc, ctx Handle) {
	if d, ok := b.documents.take(doc); ok {
		if _, err := d.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.document}); err != nil {
			Logger.Warn("Error while dropping document", "error", err)
		}
	}
	if c, ok := b.contexts.take(ctx); ok {
		b.free.put(c)
	}
}

// Close cleans up resources used by the PDFium renderer
func (b *PDFiumBackend) Close() error {
	b.documents.drain(func(d *pdfiumDocument) {
		d.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.document})
	})
	b.contexts.drain(func(c *pdfiumContext) { closeInstance(c.instance) })
	b.free.close()
	if b.pool != nil {
		if err := b.pool.Close(); err != nil {
			return err
		}
		b.pool = nil
	}
	return nil
}
