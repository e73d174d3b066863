package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/dedup"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

// Intake is the single validate-and-create path shared by the initial scan,
// periodic rescans and live filesystem events.
type Intake struct {
	cfg     *common.Config
	batches BatchCreator
	index   *dedup.Index
	submit  Submitter
	obs     Observer
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	skipped  map[string]fileStamp
}

// fileStamp identifies an unchanged file between scans.
type fileStamp struct {
	size    int64
	modTime time.Time
	outcome Outcome
	hash    string
}

type IntakeOption func(*Intake)

// WithObserver records intake outcomes, typically into metrics.
func WithObserver(o Observer) IntakeOption {
	return func(i *Intake) {
		if o != nil {
			i.obs = o
		}
	}
}

func NewIntake(cfg *common.Config, batches BatchCreator, index *dedup.Index, submitter Submitter, logger *slog.Logger, opts ...IntakeOption) *Intake {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Intake{
		cfg:      cfg,
		batches:  batches,
		index:    index,
		submit:   submitter,
		obs:      nopObserver{},
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		inflight: make(map[string]struct{}),
		skipped:  make(map[string]fileStamp),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Matches reports whether path passes the configured glob patterns.
func (i *Intake) Matches(path string) bool {
	return MatchPatterns(i.cfg.Watch.Patterns, i.cfg.Folders.Hot, path)
}

// Validate runs the pattern, size and duplicate checks in that order and
// hashes the file. Any stat or read error is reported as OutcomeFailed.
func (i *Intake) Validate(ctx context.Context, path string) (*Candidate, Outcome, error) {
	if !i.Matches(path) {
		i.logger.Debug("skipping file: no pattern match", "path", path)
		return nil, OutcomePatternMismatch, nil
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, OutcomeFailed, fmt.Errorf("stat: %w", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, OutcomePatternMismatch, nil
	}

	if prev, ok := i.skippedBefore(path, fi); ok {
		return nil, prev, nil
	}

	if limit := i.cfg.Watch.MaxFileSizeBytes(); fi.Size() > limit {
		i.logger.Warn("skipping file: exceeds max size",
			"path", path, "size_bytes", fi.Size(), "max_mb", i.cfg.Watch.MaxFileSizeMB)
		i.rememberSkip(path, fi, OutcomeTooLarge, "")
		return nil, OutcomeTooLarge, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, OutcomeFailed, err
	}
	hash, n, err := HashFile(path)
	if err != nil {
		return nil, OutcomeFailed, err
	}
	if i.index.Contains(hash) {
		i.logger.Info("skipping file: duplicate", "path", path, "content_hash", hash)
		i.rememberSkip(path, fi, OutcomeDuplicate, hash)
		return nil, OutcomeDuplicate, nil
	}

	return &Candidate{
		Path:     path,
		Filename: filepath.Base(path),
		Size:     n,
		ModTime:  fi.ModTime(),
		Hash:     hash,
	}, OutcomeCreated, nil
}

// Register persists a Pending batch for c. The hash is reserved in the dedup
// index before the write and committed only when the write succeeds.
func (i *Intake) Register(ctx context.Context, c *Candidate) (*entity.Batch, Outcome, error) {
	if !i.index.Reserve(c.Hash) {
		i.logger.Info("skipping file: duplicate", "path", c.Path, "content_hash", c.Hash)
		return nil, OutcomeDuplicate, nil
	}

	b := &entity.Batch{
		Filename:     c.Filename,
		OriginalPath: c.Path,
		ContentHash:  c.Hash,
		SizeBytes:    c.Size,
		Status:       constants.BatchStatusPending,
		CreatedAt:    i.now(),
	}
	if err := i.batches.Create(ctx, b); err != nil {
		i.index.Release(c.Hash)
		return nil, OutcomeFailed, fmt.Errorf("create batch: %w", err)
	}
	i.index.Commit(c.Hash)
	i.forgetSkip(c.Path)

	i.logger.Info("batch created", "batch_id", b.ID, "path", c.Path, "size_bytes", c.Size)
	return b, OutcomeCreated, nil
}

// HandlePath validates path, registers a batch for it and submits the batch
// when auto-processing is on. Failures leave the file where it is.
func (i *Intake) HandlePath(ctx context.Context, path string) Result {
	abs, err := filepath.Abs(path)
	if err != nil {
		return i.finish(Result{Path: path, Outcome: OutcomeFailed, Err: err})
	}
	if !i.enter(abs) {
		return Result{Path: abs, Outcome: OutcomeInFlight}
	}
	defer i.leave(abs)

	c, outcome, err := i.Validate(ctx, abs)
	if err != nil || c == nil {
		if err != nil {
			i.logger.Warn("skipping file: cannot read", "path", abs, "error", err)
		}
		return i.finish(Result{Path: abs, Outcome: outcome, Err: err})
	}

	b, outcome, err := i.Register(ctx, c)
	if err != nil {
		i.logger.Error("failed to register batch; file left for retry", "path", abs, "error", err)
		return i.finish(Result{Path: abs, Outcome: outcome, Hash: c.Hash, Err: err})
	}
	if b == nil {
		return i.finish(Result{Path: abs, Outcome: outcome, Hash: c.Hash})
	}

	if i.cfg.Processing.AutoStart && i.submit != nil {
		if !i.submit.Submit(b.ID) {
			i.logger.Warn("batch left pending: dispatcher did not accept it", "batch_id", b.ID)
		}
	}
	return i.finish(Result{Path: abs, Outcome: OutcomeCreated, BatchID: b.ID, Hash: c.Hash})
}

// PruneSkipped forgets remembered rejects whose files are gone.
func (i *Intake) PruneSkipped() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for p := range i.skipped {
		if _, err := os.Stat(p); err != nil {
			delete(i.skipped, p)
		}
	}
}

func (i *Intake) finish(r Result) Result {
	if r.Outcome != OutcomeInFlight {
		i.obs.ObserveIntake(r.Outcome.String())
	}
	return r
}

func (i *Intake) enter(path string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, busy := i.inflight[path]; busy {
		return false
	}
	i.inflight[path] = struct{}{}
	return true
}

func (i *Intake) leave(path string) {
	i.mu.Lock()
	delete(i.inflight, path)
	i.mu.Unlock()
}

func (i *Intake) skippedBefore(path string, fi os.FileInfo) (Outcome, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	s, ok := i.skipped[path]
	if !ok || s.size != fi.Size() || !s.modTime.Equal(fi.ModTime()) {
		return 0, false
	}
	// a duplicate stays skipped only while its hash is still known
	if s.outcome == OutcomeDuplicate && !i.index.Contains(s.hash) {
		delete(i.skipped, path)
		return 0, false
	}
	return s.outcome, true
}

func (i *Intake) rememberSkip(path string, fi os.FileInfo, o Outcome, hash string) {
	i.mu.Lock()
	i.skipped[path] = fileStamp{size: fi.Size(), modTime: fi.ModTime(), outcome: o, hash: hash}
	i.mu.Unlock()
}

func (i *Intake) forgetSkip(path string) {
	i.mu.Lock()
	delete(i.skipped, path)
	i.mu.Unlock()
}
