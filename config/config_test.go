package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestCheckWritableDir_CreatesMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output", "nested")
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if err := checkWritableDir(dir, logger); err != nil {
		t.Fatalf("Expected no error creating %s, got: %v", dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("Directory was not created: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Write check file left behind: %v", entries)
	}
}

func TestCheckWritableDir_FileInTheWay(t *testing.T) {
	tempDir := t.TempDir()
	blocker := filepath.Join(tempDir, "output")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	err := checkWritableDir(filepath.Join(blocker, "pages"), logger)
	if err == nil {
		t.Error("Expected error when a file blocks the directory, got nil")
	}
	t.Logf("Correctly returned error: %v", err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PAGEXTRACT_TEST_INT", "12")
	t.Setenv("PAGEXTRACT_TEST_BAD_INT", "twelve")
	t.Setenv("PAGEXTRACT_TEST_BOOL", "true")
	t.Setenv("PAGEXTRACT_TEST_FLOAT", "300")
	t.Setenv("PAGEXTRACT_TEST_NEG_FLOAT", "-1")

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"int", getEnvInt("PAGEXTRACT_TEST_INT", 4), 12},
		{"bad int", getEnvInt("PAGEXTRACT_TEST_BAD_INT", 4), 4},
		{"missing int", getEnvInt("PAGEXTRACT_TEST_MISSING", 4), 4},
		{"bool", getEnvBool("PAGEXTRACT_TEST_BOOL", false), true},
		{"float", getEnvFloat("PAGEXTRACT_TEST_FLOAT", 432), 300.0},
		{"negative float", getEnvFloat("PAGEXTRACT_TEST_NEG_FLOAT", 432), 432.0},
		{"string default", getEnv("PAGEXTRACT_TEST_MISSING", "pdfium"), "pdfium"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestSetupCLIDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RENDER_BACKEND", "")
	t.Setenv("RENDER_DPI", "")
	t.Setenv("LOG_OUTPUT", "stdout")

	cfg, logger := SetupCLI()
	if logger == nil {
		t.Fatal("SetupCLI returned no logger")
	}
	if cfg.RenderBackend != "pdfium" {
		t.Errorf("RenderBackend = %q, want pdfium", cfg.RenderBackend)
	}
	if cfg.RenderDPI != 432 {
		t.Errorf("RenderDPI = %v, want 432", cfg.RenderDPI)
	}
	if cfg.ResultBuffer != 100 {
		t.Errorf("ResultBuffer = %d, want 100", cfg.ResultBuffer)
	}
	if cfg.MaxRuns != 1 {
		t.Errorf("MaxRuns = %d, want 1", cfg.MaxRuns)
	}
	if !filepath.IsAbs(cfg.OutputPath) {
		t.Errorf("OutputPath %q is not absolute", cfg.OutputPath)
	}
}
