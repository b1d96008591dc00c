package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/drummonds/pagextract/database"
)

func TestDirectoryChecks(t *testing.T) {
	dir := t.TempDir()

	t.Run("Creates missing directory", func(t *testing.T) {
		path := filepath.Join(dir, "new", "ingress")
		if err := directoryChecks("ingress", path); err != nil {
			t.Fatalf("directoryChecks failed: %v", err)
		}
		if info, err := os.Stat(path); err != nil || !info.IsDir() {
			t.Errorf("Directory not created: %v", err)
		}
	})

	t.Run("Rejects a file", func(t *testing.T) {
		path := filepath.Join(dir, "file")
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
		if err := directoryChecks("output", path); err == nil {
			t.Error("Expected an error for a file path")
		}
	})

	t.Run("Empty path is skipped", func(t *testing.T) {
		if err := directoryChecks("output", ""); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})
}

func TestStartupChecks(t *testing.T) {
	handler, env := newTestHandler(t, 1)
	if err := os.RemoveAll(env.config.OutputPath); err != nil {
		t.Fatalf("Failed to remove output path: %v", err)
	}
	if err := handler.StartupChecks(); err != nil {
		t.Fatalf("StartupChecks failed: %v", err)
	}
	if _, err := os.Stat(env.config.OutputPath); err != nil {
		t.Errorf("Output path not recreated: %v", err)
	}
}

func TestCleanupJob(t *testing.T) {
	handler, env := newTestHandler(t, 1)
	run, err := env.db.CreateRun("/docs/fresh.pdf", "memory", 1)
	if err != nil {
		t.Fatalf("Failed to create run: %v", err)
	}
	if err := env.db.CompleteRun(run.ID, database.RunStatusCompleted); err != nil {
		t.Fatalf("Failed to complete run: %v", err)
	}

	handler.cleanupJobFunc()

	if _, err := env.db.GetRun(run.ID); err != nil {
		t.Errorf("Recent run removed by cleanup: %v", err)
	}
}
