package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	engine "github.com/drummonds/pagextract/engine"
	"github.com/drummonds/pagextract/engine/extractor"
	"github.com/drummonds/pagextract/engine/pdfrenderer"
)

func TestMain(m *testing.M) {
	injectGlobals(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn})))
	os.Exit(m.Run())
}

func TestExtractWritesEveryPage(t *testing.T) {
	backend := pdfrenderer.NewMemoryBackend(pdfrenderer.Config{DPI: 72}, 12)
	defer backend.Close()
	outDir := filepath.Join(t.TempDir(), "scan")

	res, tally, err := extract(context.Background(), backend, "scan.pdf", outDir, engine.PageWriter{}, extractor.FixedCapacity(3), nil, 4)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if res.State != extractor.Completed || res.Pages != 12 {
		t.Errorf("Result = %+v", res)
	}
	if tally.Succeeded != 12 || tally.Failed != 0 {
		t.Errorf("Tally = %+v", tally)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("Failed to read output folder: %v", err)
	}
	if len(entries) != 12 {
		t.Errorf("Expected 12 page files, got %d", len(entries))
	}
	if backend.Open() != 0 {
		t.Errorf("Backend still holds %d handles", backend.Open())
	}
}

func TestExtractInitializationFailure(t *testing.T) {
	backend := pdfrenderer.NewMemoryBackend(pdfrenderer.Config{DPI: 72}, 1)
	defer backend.Close()
	backend.SetPages("broken.pdf", -1)

	_, _, err := extract(context.Background(), backend, "broken.pdf", t.TempDir(), engine.PageWriter{}, extractor.FixedCapacity(1), nil, 1)
	if extractor.KindOf(err) != extractor.InitializationFailure {
		t.Errorf("Expected initialization failure, got %v", err)
	}
}

func TestExtractCountsWriteFailures(t *testing.T) {
	backend := pdfrenderer.NewMemoryBackend(pdfrenderer.Config{DPI: 72}, 2)
	defer backend.Close()

	// a directory where each page file belongs makes every write fail
	outDir := filepath.Join(t.TempDir(), "pages")
	if err := os.MkdirAll(outDir, os.ModePerm); err != nil {
		t.Fatalf("Failed to create output folder: %v", err)
	}
	for _, name := range []string{"page_0000.png", "page_0001.png"} {
		if err := os.MkdirAll(filepath.Join(outDir, name), os.ModePerm); err != nil {
			t.Fatalf("Failed to block %s: %v", name, err)
		}
	}

	_, tally, err := extract(context.Background(), backend, "blocked.pdf", outDir, engine.PageWriter{}, extractor.FixedCapacity(2), nil, 2)
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}
	if tally.Succeeded != 0 || tally.Failed != 2 {
		t.Errorf("Tally = %+v", tally)
	}
}

type gatedBackend struct {
	*pdfrenderer.MemoryBackend
	gate chan struct{}
}

func (b *gatedBackend) RenderPage(page int, ctx, doc pdfrenderer.Handle) (*pdfrenderer.Image, error) {
	<-b.gate
	return b.MemoryBackend.RenderPage(page, ctx, doc)
}

func TestExtractWriteFailuresAfterStopKeepTallyConsistent(t *testing.T) {
	memory := pdfrenderer.NewMemoryBackend(pdfrenderer.Config{DPI: 72}, 3)
	defer memory.Close()
	backend := &gatedBackend{MemoryBackend: memory, gate: make(chan struct{})}

	outDir := filepath.Join(t.TempDir(), "pages")
	for _, name := range []string{"page_0000.png", "page_0001.png", "page_0002.png"} {
		if err := os.MkdirAll(filepath.Join(outDir, name), os.ModePerm); err != nil {
			t.Fatalf("Failed to block %s: %v", name, err)
		}
	}

	type extracted struct {
		res   extractor.Result
		tally extractor.Tally
		err   error
	}
	control := make(chan extractor.ControlMessage)
	done := make(chan extracted, 1)
	go func() {
		res, tally, err := extract(context.Background(), backend, "stopped.pdf", outDir, engine.PageWriter{}, extractor.FixedCapacity(3), control, 1)
		done <- extracted{res, tally, err}
	}()

	// one base context plus a clone for each page in flight
	deadline := time.Now().Add(5 * time.Second)
	for memory.Contexts() < 4 {
		if time.Now().After(deadline) {
			close(backend.gate)
			t.Fatalf("Only %d contexts cloned", memory.Contexts())
		}
		time.Sleep(10 * time.Millisecond)
	}
	control <- extractor.Stop
	close(backend.gate)

	var got extracted
	select {
	case got = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("extract did not return after stop")
	}
	if got.err != nil {
		t.Fatalf("extract failed: %v", got.err)
	}
	if got.res.State != extractor.Aborted {
		t.Errorf("State = %s, want aborted", got.res.State)
	}
	// pages that finished after the stop may not be collected, but none
	// of the collected ones were written
	if got.tally.Succeeded != 0 {
		t.Errorf("Tally = %+v, no page could be written", got.tally)
	}
	if got.tally.Failed != got.tally.Total() || got.tally.Failed > 3 {
		t.Errorf("Tally = %+v", got.tally)
	}
}
