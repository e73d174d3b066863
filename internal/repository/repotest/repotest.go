// Package repotest opens throwaway in-memory stores for tests.
package repotest

import (
	"context"
	"io"
	"log/slog"
	"testing"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/joseph-ayodele/docintake/internal/repository"
)

// Open returns a migrated in-memory SQLite driver closed at test cleanup.
func Open(t testing.TB) *entsql.Driver {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	drv, _, err := repository.Open(ctx, repository.Config{DSN: "file::memory:"}, logger)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { repository.Close(drv, nil, logger) })

	if err := repository.Migrate(ctx, drv, logger); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return drv
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
