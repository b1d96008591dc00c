package pdfrenderer

import (
	"errors"
	"fmt"
	"log/slog"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ErrDocumentCorrupted prefixes failures caused by a damaged document rather
// than by the page being rendered
var ErrDocumentCorrupted = errors.New("document corruption detected")

// Handle identifies a resource owned by a rendering backend. The zero value
// is the absent handle.
type Handle uint64

// NilHandle is the absent handle
const NilHandle Handle = 0

// IsNil reports whether h refers to nothing
func (h Handle) IsNil() bool { return h == NilHandle }

// Image is a rendered page. Data is only valid until FreeImage is called on it.
type Image struct {
	Data     []byte
	Width    int
	Height   int
	Channels int

	release func()
}

// Backend is the native rendering library contract. Handles returned by one
// backend are meaningless to any other.
type Backend interface {
	// Init opens the document at path and returns its base handles and page count
	Init(path string) (doc, ctx Handle, pageCount int, err error)

	// RenderPage rasterises one page using a private context/document pair
	RenderPage(page int, ctx, doc Handle) (*Image, error)

	// FreeImage returns the image buffer to the backend
	FreeImage(img *Image)

	// Cleanup releases a document and its context. Either may be NilHandle and
	// releasing an already released handle does nothing.
	Cleanup(doc, ctx Handle)

	// FlushCache drops render caches held by ctx
	FlushCache(ctx Handle)

	// CloneContext creates a context that can be used from another thread
	CloneContext(ctx Handle) (Handle, error)

	// CloneDocument opens path again, bound to ctx
	CloneDocument(path string, ctx Handle) (Handle, error)

	// Name reports the backend identifier used in configuration
	Name() string

	// Close cleans up any resources used by the backend
	Close() error
}

// Config holds the options shared by every backend
type Config struct {
	// DPI used to rasterise pages. 432 matches a 6x scale of the 72 DPI page space.
	DPI float64
	// MaxContexts bounds the pooled contexts kept for reuse
	MaxContexts int
	// MaxInstances bounds the native instances held at once, pooled or in
	// use. 0 allows MaxContexts+1.
	MaxInstances int
}

// DefaultConfig returns the render settings used when nothing is configured
func DefaultConfig() Config {
	return Config{DPI: 432, MaxContexts: 32}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.DPI <= 0 {
		c.DPI = def.DPI
	}
	if c.MaxContexts <= 0 {
		c.MaxContexts = def.MaxContexts
	}
	if c.MaxInstances <= 0 {
		c.MaxInstances = c.MaxContexts + 1
	}
	return c
}

// InstanceBudget is the number of contexts live at once when runs documents
// render concurrently, each holding its base context and one per active page
func InstanceBudget(runs, capacity int) int {
	return max(runs, 1) * (max(capacity, 1) + 1)
}

// NewBackend creates the backend registered under name
func NewBackend(name string, cfg Config) (Backend, error) {
	switch name {
	case "fitz", "mupdf":
		return NewFitzBackend(cfg), nil
	case "pdfium", "":
		return NewPDFiumBackend(cfg)
	case "memory":
		return NewMemoryBackend(cfg, 1), nil
	default:
		return nil, fmt.Errorf("unknown render backend %q (supported: fitz, pdfium, memory)", name)
	}
}
