package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
)

type memoryContext struct {
	cache *renderCache
}

type memoryPage struct {
	path string
	page int
}

type memoryDocument struct {
	path  string
	pages int
}

// MemoryBackend synthesises blank pages without touching the file system.
// It backs dry runs (RENDER_BACKEND=memory) and API tests.
type MemoryBackend struct {
	cfg       Config
	contexts  *handleTable[*memoryContext]
	documents *handleTable[*memoryDocument]

	mu           sync.Mutex
	pages        map[string]int
	corrupt      map[memoryPage]bool
	defaultPages int
}

// NewMemoryBackend returns a backend whose documents have defaultPages pages
// unless SetPages says otherwise
func NewMemoryBackend(cfg Config, defaultPages int) *MemoryBackend {
	return &MemoryBackend{
		cfg:          cfg.withDefaults(),
		contexts:     newHandleTable[*memoryContext](),
		documents:    newHandleTable[*memoryDocument](),
		pages:        make(map[string]int),
		corrupt:      make(map[memoryPage]bool),
		defaultPages: defaultPages,
	}
}

// SetPages fixes the page count reported for path
func (b *MemoryBackend) SetPages(path string, pages int) {
	b.mu.Lock()
	b.pages[path] = pages
	b.mu.Unlock()
}

// SetCorrupt makes rendering page of path fail as a damaged document would
func (b *MemoryBackend) SetCorrupt(path string, page int) {
	b.mu.Lock()
	b.corrupt[memoryPage{path: path, page: page}] = true
	b.mu.Unlock()
}

func (b *MemoryBackend) isCorrupt(path string, page int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.corrupt[memoryPage{path: path, page: page}]
}

func (b *MemoryBackend) pageCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n, ok := b.pages[path]; ok {
		return n
	}
	return b.defaultPages
}

// Name implements Backend
func (b *MemoryBackend) Name() string { return "memory" }

// Init implements Backend
func (b *MemoryBackend) Init(path string) (Handle, Handle, int, error) {
	pages := b.pageCount(path)
	if pages < 0 {
		return NilHandle, NilHandle, 0, fmt.Errorf("failed to open document at path %s", path)
	}
	ctx := b.contexts.register(&memoryContext{cache: &renderCache{}})
	doc := b.documents.register(&memoryDocument{path: path, pages: pages})
	return doc, ctx, pages, nil
}

// CloneContext implements Backend
func (b *MemoryBackend) CloneContext(ctx Handle) (Handle, error) {
	if _, ok := b.contexts.lookup(ctx); !ok {
		return NilHandle, errors.New("passed an unknown context when trying to clone context")
	}
	return b.contexts.register(&memoryContext{cache: &renderCache{}}), nil
}

// CloneDocument implements Backend
func (b *MemoryBackend) CloneDocument(path string, ctx Handle) (Handle, error) {
	if _, ok := b.contexts.lookup(ctx); !ok {
		return NilHandle, errors.New("passed an unknown context when trying to clone document")
	}
	return b.documents.register(&memoryDocument{path: path, pages: b.pageCount(path)}), nil
}

// RenderPage draws a white page with a black border, sized as A4 at a tenth of the configured DPI
func (b *MemoryBackend) RenderPage(page int, ctx, doc Handle) (*Image, error) {
	c, ok := b.contexts.lookup(ctx)
	if !ok {
		return nil, errors.New("invalid context handle")
	}
	d, ok := b.documents.lookup(doc)
	if !ok {
		return nil, errors.New("invalid document handle")
	}
	if page < 0 || page >= d.pages {
		return nil, fmt.Errorf("attempted to access page %d but document only has %d pages", page, d.pages)
	}
	if b.isCorrupt(d.path, page) {
		return nil, fmt.Errorf("%w: page %d references an object out of range", ErrDocumentCorrupted, page)
	}

	w := int(8.27 * b.cfg.DPI / 10)
	h := int(11.69 * b.cfg.DPI / 10)
	src := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x == 0 || y == 0 || x == w-1 || y == h-1 {
				src.SetGray(x, y, color.Gray{Y: 0})
			} else {
				src.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return encodeBilevel(src, c.cache)
}

// FreeImage implements Backend
func (b *MemoryBackend) FreeImage(img *Image) { freeImage(img) }

// FlushCache implements Backend
func (b *MemoryBackend) FlushCache(ctx Handle) {
	if c, ok := b.contexts.lookup(ctx); ok {
		c.cache.flush()
	}
}

// Cleanup implements Backend
func (b *MemoryBackend) Cleanup(doc, ctx Handle) {
	b.documents.take(doc)
	b.contexts.take(ctx)
}

// Open reports how many handles are still live
func (b *MemoryBackend) Open() int {
	return b.documents.size() + b.contexts.size()
}

// Contexts reports how many contexts are live, the base ones included
func (b *MemoryBackend) Contexts() int {
	return b.contexts.size()
}

// Close implements Backend
func (b *MemoryBackend) Close() error {
	b.documents.drain(func(*memoryDocument) {})
	b.contexts.drain(func(*memoryContext) {})
	return nil
}
