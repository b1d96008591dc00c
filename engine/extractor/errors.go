package extractor

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a page failed
type Kind int

const (
	InitializationFailure Kind = iota + 1
	InvalidContextHandle
	NullBufferPassed
	PageDoesNotExist
	PixmapCreationFailure
	RenderFailure
	CorruptionDetected
	CloneContextFailure
	CloneDocumentFailure
	TaskPanicked
	Unexpected
)

var kindNames = map[Kind]string{
	InitializationFailure: "initialization failure",
	InvalidContextHandle:  "invalid context handle",
	NullBufferPassed:      "null buffer passed",
	PageDoesNotExist:      "page does not exist",
	PixmapCreationFailure: "pixmap creation failure",
	RenderFailure:         "render failure",
	CorruptionDetected:    "corruption detected",
	CloneContextFailure:   "clone context failure",
	CloneDocumentFailure:  "clone document failure",
	TaskPanicked:          "task panicked",
	Unexpected:            "unexpected error",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error lets a Kind be used as an errors.Is target
func (k Kind) Error() string { return k.String() }

// PageRenderError is the failure reported for a single page
type PageRenderError struct {
	Kind   Kind
	Page   int
	Detail string
}

func (e *PageRenderError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("page %d: %s", e.Page, e.Kind)
	}
	return fmt.Sprintf("page %d: %s: %s", e.Page, e.Kind, e.Detail)
}

// Is matches a Kind target
func (e *PageRenderError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func newPageError(kind Kind, page int, detail string) *PageRenderError {
	return &PageRenderError{Kind: kind, Page: page, Detail: detail}
}

// KindOf extracts the Kind of a page failure, or 0 if err is not one
func KindOf(err error) Kind {
	var pe *PageRenderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// corruptionMarkers are backend messages meaning the document itself is
// damaged, not just the page being rendered
var corruptionMarkers = []string{
	"document corruption detected",
	"corrupted and cannot be processed",
	"object out of range",
	"non-page object in page tree",
}

// Classify maps a backend failure message for page onto a PageRenderError.
// Matching is case-insensitive.
func Classify(page int, msg string) *PageRenderError {
	lower := strings.ToLower(msg)
	switch {
	case lower == "invalid context handle":
		return newPageError(InvalidContextHandle, page, "")
	case lower == "passed nullptr for a buffer!":
		return newPageError(NullBufferPassed, page, "")
	case strings.Contains(lower, "attempted to access") && strings.Contains(lower, "page"):
		return newPageError(PageDoesNotExist, page, msg)
	case lower == "failed to create pixmap: unknown error":
		return newPageError(PixmapCreationFailure, page, "Unknown Error!")
	case strings.Contains(lower, "failed to create pixmap:"):
		return newPageError(PixmapCreationFailure, page, msg)
	case isCorruption(lower):
		return newPageError(CorruptionDetected, page, msg)
	case strings.Contains(lower, "failed to render page"):
		return newPageError(RenderFailure, page, msg)
	default:
		return newPageError(Unexpected, page, msg)
	}
}

func isCorruption(lower string) bool {
	for _, marker := range corruptionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ErrSessionClosed is returned when a closed session is used
var ErrSessionClosed = errors.New("document session is closed")
