package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := common.DefaultConfig()
	cfg.Database.DSN = "file:" + filepath.Join(dir, "docintake.db")
	cfg.Folders = common.FolderConfig{
		Hot:        filepath.Join(dir, "hot"),
		Archive:    filepath.Join(dir, "archive"),
		Error:      filepath.Join(dir, "error"),
		Temp:       filepath.Join(dir, "tmp"),
		PageImages: filepath.Join(dir, "pages"),
	}
	return cfg
}

func TestNewLoadsKnownHashes(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t)

	a, err := New(ctx, cfg, prometheus.NewRegistry(), logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, dir := range []string{cfg.Folders.Hot, cfg.Folders.Archive, cfg.Folders.Error, cfg.Folders.Temp, cfg.Folders.PageImages} {
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			t.Fatalf("folder %s not created: %v", dir, err)
		}
	}
	if a.Metrics == nil || a.Intake() == nil {
		t.Fatal("metrics or intake not wired")
	}

	b := &entity.Batch{
		Filename:     "a.pdf",
		OriginalPath: filepath.Join(cfg.Folders.Hot, "a.pdf"),
		ContentHash:  "5f2b",
		SizeBytes:    10,
	}
	if err := a.Batches.Create(ctx, b); err != nil {
		t.Fatalf("create batch: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	a, err = New(ctx, cfg, nil, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer a.Close(ctx)

	if !a.Index.Contains("5f2b") {
		t.Fatal("stored hash not loaded into the dedup index")
	}
	if a.Metrics != nil {
		t.Fatal("metrics built without a registerer")
	}
	got, err := a.Service.Get(ctx, b.ID.String())
	if err != nil || got.Filename != "a.pdf" {
		t.Fatalf("Get = %+v, %v", got, err)
	}
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.ExtractionEngine = "llm"
	if _, err := New(context.Background(), cfg, nil, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("unknown engine accepted")
	}
}
