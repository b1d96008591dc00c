package extractor

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/drummonds/pagextract/engine/pdfrenderer"
)

func TestRunStopAcceptedWhileSinkIsFull(t *testing.T) {
	fake := newFakeBackend(20)
	for call := 0; call < 20; call++ {
		fake.failCloneContext[call] = true
	}
	control := make(chan ControlMessage, 1)
	fake.onCloneContext = func(call int) {
		if call == 2 {
			control <- Stop
		}
	}
	session := openFake(t, fake)
	sink := NewSink(1) // nothing reads it until the run is over

	done := make(chan Result, 1)
	go func() {
		res, _ := Run(context.Background(), session, recordPages, sink, NewSharedState([]int{}), control, WithCapacity(4))
		done <- res
	}()

	select {
	case res := <-done:
		if res.State != Aborted {
			t.Errorf("State = %v, want aborted", res.State)
		}
		if res.Skipped != BatchSize || res.Scheduled != 0 {
			t.Errorf("Result = %+v, want only the first batch skipped", res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not accept Stop while the sink was full")
	}

	sink.Close()
	tally := sink.Collect(context.Background(), nil)
	if tally.Failed != 1 || tally.ByKind[CloneContextFailure] != 1 {
		t.Errorf("tally = %+v, want the one clone failure that fit", tally)
	}
}

func TestRunFreesImageWithoutData(t *testing.T) {
	fake := newFakeBackend(3)
	fake.emptyPages[1] = true

	_, got, pages := runToEnd(t, fake, recordPages, 1)

	if k := KindOf(got.outcomes[1][0].Err); k != NullBufferPassed {
		t.Errorf("page 1 kind = %v, want null buffer passed", k)
	}
	if len(pages) != 2 {
		t.Errorf("callback ran for %d pages, want 2", len(pages))
	}
	if _, _, freed, _, _ := fake.snapshot(); freed != 3 {
		t.Errorf("freed %d images, want 3", freed)
	}
	if bad := fake.badReleases(); len(bad) != 0 {
		t.Errorf("handles not released exactly once: %v", bad)
	}
}

func TestRunRecordsPageSpans(t *testing.T) {
	fake := newFakeBackend(3)
	fake.renderErrors[2] = "failed to render page 2: boom"
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer provider.Shutdown(context.Background())

	session := openFake(t, fake)
	sink := NewSink(10)
	_, err := Run(context.Background(), session, recordPages, sink, NewSharedState([]int{}), nil,
		WithCapacity(1), WithTracerProvider(provider))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sink.Close()

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("recorded %d spans, want 3", len(spans))
	}
	seen := map[int64]bool{}
	for _, span := range spans {
		if span.Name() != "extractor.page" {
			t.Errorf("span name = %q", span.Name())
		}
		page := int64(-1)
		for _, kv := range span.Attributes() {
			if kv.Key == "page" {
				page = kv.Value.AsInt64()
			}
		}
		seen[page] = true
		failed := span.Status().Code == codes.Error
		if failed != (page == 2) {
			t.Errorf("page %d span status = %v", page, span.Status())
		}
	}
	for page := int64(0); page < 3; page++ {
		if !seen[page] {
			t.Errorf("no span for page %d", page)
		}
	}
}

func TestRunReportsBackendCorruption(t *testing.T) {
	backend := pdfrenderer.NewMemoryBackend(pdfrenderer.Config{DPI: 72}, 4)
	defer backend.Close()
	backend.SetCorrupt("damaged.pdf", 2)

	session, err := Open(backend, "damaged.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer session.Close()

	sink := NewSink(10)
	results := startCollector(sink)
	res, err := Run(context.Background(), session, nil, sink, NewSharedState(struct{}{}), nil, WithCapacity(2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	sink.Close()
	got := <-results

	if res.State != Completed {
		t.Errorf("State = %v, want completed", res.State)
	}
	if k := KindOf(got.outcomes[2][0].Err); k != CorruptionDetected {
		t.Errorf("page 2 kind = %v, want corruption detected", k)
	}
	if got.tally.Succeeded != 3 {
		t.Errorf("tally = %+v, want the other 3 pages rendered", got.tally)
	}
	if backend.Open() != 2 {
		t.Errorf("%d handles open, want only the base pair", backend.Open())
	}
}
