package extractor

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drummonds/pagextract/engine/pdfrenderer"
)

// flushInterval is how often, in pages, a worker drops its render cache
const flushInterval = 10

// tracerName identifies the page spans
const tracerName = "github.com/drummonds/pagextract/engine/extractor"

type completion struct {
	page    int
	outcome PageOutcome
}

// taskFactory turns page indices into running workers
type taskFactory[T any] struct {
	session  *Session
	callback Callback[T]
	state    *SharedState[T]
	sink     *Sink
	done     chan<- completion
	workers  *sync.WaitGroup
	tracer   trace.Tracer
}

// spawn clones private handles for page and starts its worker. It returns
// false when the page had to be skipped because cloning failed.
func (f *taskFactory[T]) spawn(ctx context.Context, page int) bool {
	backend := f.session.Backend()

	cloneCtx, err := f.session.CloneContext()
	if err != nil {
		Logger.Warn("Skipping page, context clone failed", "page", page, "error", err)
		f.report(PageOutcome{Page: page, Err: newPageError(CloneContextFailure, page, err.Error())})
		return false
	}

	cloneDoc, err := f.session.CloneDocument(cloneCtx)
	if err != nil {
		// the context clone succeeded so it still has to go back
		newHandlePair(backend, cloneCtx, pdfrenderer.NilHandle).Release()
		Logger.Warn("Skipping page, document clone failed", "page", page, "error", err)
		f.report(PageOutcome{Page: page, Err: newPageError(CloneDocumentFailure, page, err.Error())})
		return false
	}

	pair := newHandlePair(backend, cloneCtx, cloneDoc)
	f.workers.Add(1)
	go func() {
		defer f.workers.Done()
		outcome := f.execute(ctx, page, pair)
		f.sink.Send(ctx, outcome)
		f.done <- completion{page: page, outcome: outcome}
	}()
	return true
}

// report delivers a clone failure from the coordinating goroutine. It must
// never block the loop, so the outcome is dropped when the sink is full.
func (f *taskFactory[T]) report(o PageOutcome) {
	if !f.sink.TrySend(o) {
		Logger.Warn("Result sink full, dropping clone failure", "page", o.Page, "error", o.Err)
	}
}

// execute renders one page on a locked OS thread. The pair is released on
// every exit path, including a panic in the backend or the callback.
func (f *taskFactory[T]) execute(ctx context.Context, page int, pair *HandlePair) (out PageOutcome) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	_, span := f.tracer.Start(ctx, "extractor.page", trace.WithAttributes(
		attribute.Int("page", page),
		attribute.String("document", f.session.Path),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Page task panicked", "page", page, "panic", r)
			out = PageOutcome{Page: page, Err: newPageError(TaskPanicked, page, fmt.Sprint(r))}
		}
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
	}()

	err := pair.Use(func(c, d pdfrenderer.Handle) error {
		return f.render(page, c, d)
	})
	if err != nil {
		return PageOutcome{Page: page, Err: err}
	}
	return PageOutcome{Page: page}
}

func (f *taskFactory[T]) render(page int, ctx, doc pdfrenderer.Handle) error {
	if ctx.IsNil() {
		return newPageError(InvalidContextHandle, page, "")
	}
	if doc.IsNil() {
		return newPageError(Unexpected, page, "invalid document handle")
	}

	backend := f.session.Backend()
	img, err := backend.RenderPage(page, ctx, doc)
	if err != nil {
		perr := Classify(page, err.Error())
		if perr.Kind == CorruptionDetected {
			Logger.Error("Document corruption reported while rendering", "page", page, "path", f.session.Path, "error", err)
		} else {
			Logger.Warn("Page render failed", "page", page, "kind", perr.Kind.String(), "error", err)
		}
		return perr
	}
	if img == nil {
		return newPageError(NullBufferPassed, page, "")
	}
	if img.Data == nil {
		backend.FreeImage(img)
		return newPageError(NullBufferPassed, page, "")
	}

	func() {
		defer backend.FreeImage(img)
		if f.callback != nil {
			f.callback(page, img.Data, img.Width, img.Height, img.Channels, f.state)
		}
	}()

	if page%flushInterval == 0 {
		Logger.Debug("Flushing render cache", "page", page)
		backend.FlushCache(ctx)
	}
	return nil
}
