package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/drummonds/pagextract/config"
	"github.com/drummonds/pagextract/database"
	"github.com/drummonds/pagextract/engine/pdfrenderer"
	"github.com/oklog/ulid/v2"
)

func init() {
	Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	database.Logger = Logger
}

// writeTestPDF writes a minimal PDF with blank letter sized pages and a
// correct cross reference table
func writeTestPDF(path string, pages int) error {
	var buf bytes.Buffer
	offsets := []int{}
	object := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	object("<< /Type /Catalog /Pages 2 0 R >>")
	kids := ""
	for i := 0; i < pages; i++ {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	object(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := 0; i < pages; i++ {
		object("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

type testEnv struct {
	db      *database.BunDB
	backend *pdfrenderer.MemoryBackend
	config  config.ServerConfig
	runs    *RunManager
}

// newTestEnv wires a run manager to an in memory sqlite database and the
// memory render backend. wrap, when set, decorates the backend the runs use.
func newTestEnv(t *testing.T, pages int, wrap func(*pdfrenderer.MemoryBackend) pdfrenderer.Backend) *testEnv {
	t.Helper()
	dir := t.TempDir()
	serverConfig := config.ServerConfig{
		DatabaseType:   "sqlite",
		DatabaseDbname: fmt.Sprintf("file:engine_%s?mode=memory&cache=shared", ulid.Make()),
		IngressPath:    filepath.Join(dir, "ingress"),
		OutputPath:     filepath.Join(dir, "output"),
		RenderBackend:  "memory",
		RenderDPI:      72,
		MaxConcurrency: 2,
		ResultBuffer:   8,
	}
	for _, p := range []string{serverConfig.IngressPath, serverConfig.OutputPath} {
		if err := os.MkdirAll(p, os.ModePerm); err != nil {
			t.Fatalf("Failed to create %s: %v", p, err)
		}
	}

	db, err := database.NewRepository(serverConfig)
	if err != nil {
		t.Fatalf("Failed to open sqlite repository: %v", err)
	}
	backend := pdfrenderer.NewMemoryBackend(pdfrenderer.Config{DPI: 72}, pages)
	var runBackend pdfrenderer.Backend = backend
	if wrap != nil {
		runBackend = wrap(backend)
	}
	runs := NewRunManager(db, runBackend, serverConfig)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := runs.Shutdown(ctx); err != nil {
			t.Errorf("Runs did not shut down: %v", err)
		}
		backend.Close()
		db.Close()
	})
	return &testEnv{db: db, backend: backend, config: serverConfig, runs: runs}
}

// gatedBackend holds every render until gate is closed
type gatedBackend struct {
	*pdfrenderer.MemoryBackend
	gate chan struct{}
}

func (b *gatedBackend) RenderPage(page int, ctx, doc pdfrenderer.Handle) (*pdfrenderer.Image, error) {
	<-b.gate
	return b.MemoryBackend.RenderPage(page, ctx, doc)
}

// waitForRun blocks until the run has been recorded as finished
func waitForRun(t *testing.T, env *testEnv, id ulid.ULID) *database.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := env.runs.Wait(ctx, id); err != nil {
		t.Fatalf("Run %s did not finish: %v", id, err)
	}
	run, err := env.db.GetRun(id)
	if err != nil {
		t.Fatalf("Failed to get run: %v", err)
	}
	return run
}
