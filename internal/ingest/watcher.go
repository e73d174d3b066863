package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/semaphore"

	"github.com/joseph-ayodele/docintake/internal/common"
)

// Watcher feeds the hot folder into Intake from three sources: an initial
// backlog scan, fsnotify create events and an optional periodic rescan.
// Intake work runs in goroutines bounded by a semaphore so a slow hash never
// stalls event delivery.
type Watcher struct {
	cfg    *common.Config
	intake *Intake
	logger *slog.Logger

	sem      *semaphore.Weighted
	wg       sync.WaitGroup
	scanning atomic.Bool
}

func NewWatcher(cfg *common.Config, intake *Intake, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	n := cfg.Watch.IntakeConcurrency
	if n < 1 {
		n = 1
	}
	return &Watcher{
		cfg:    cfg,
		intake: intake,
		logger: logger.With("component", "watcher", "root", cfg.Folders.Hot),
		sem:    semaphore.NewWeighted(n),
	}
}

// Run watches the hot folder until ctx is cancelled. The watch is armed
// before the initial scan so files created during the scan are not missed;
// anything seen twice is collapsed by the dedup index.
func (w *Watcher) Run(ctx context.Context) error {
	root := w.cfg.Folders.Hot
	if root == "" {
		w.logger.Error("watcher start failed: no hot folder configured")
		return errors.New("no hot folder configured")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("failed to create fsnotify watcher", "error", err)
		return err
	}
	defer func() {
		if err := fsw.Close(); err != nil {
			w.logger.Warn("failed to close fsnotify watcher", "error", err)
		}
	}()

	if err := w.addTree(fsw, root); err != nil {
		w.logger.Error("failed to watch hot folder", "error", err)
		return err
	}

	w.scanning.Store(true)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.scanning.Store(false)
		stats, err := w.InitialScan(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("initial scan failed", "error", err)
		}
		w.logger.Info("initial scan complete",
			"scanned", stats.Scanned, "created", stats.Created,
			"duplicates", stats.Duplicates, "rejected", stats.Rejected, "failed", stats.Failed)
	}()

	var tick <-chan time.Time
	if w.cfg.Watch.PollInterval > 0 {
		t := time.NewTicker(w.cfg.Watch.PollInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping; waiting for in-flight intake")
			w.wg.Wait()
			return nil
		case e, ok := <-fsw.Events:
			if !ok {
				w.wg.Wait()
				return errors.New("fsnotify event channel closed")
			}
			w.handleEvent(ctx, fsw, e)
		case err, ok := <-fsw.Errors:
			if !ok {
				w.wg.Wait()
				return errors.New("fsnotify error channel closed")
			}
			w.logger.Error("watcher error", "error", err)
		case <-tick:
			w.rescan(ctx)
		}
	}
}

// InitialScan walks the hot folder (recursively when configured) and hands
// every file to Intake. It returns once all spawned intake work is done.
func (w *Watcher) InitialScan(ctx context.Context) (ScanStats, error) {
	return w.scanDir(ctx, w.cfg.Folders.Hot)
}

func (w *Watcher) scanDir(ctx context.Context, dir string) (ScanStats, error) {
	var (
		mu    sync.Mutex
		stats ScanStats
		local sync.WaitGroup
	)
	err := w.walk(dir, func(path string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		local.Add(1)
		w.spawn(ctx, path, 0, func(r Result) {
			mu.Lock()
			stats.add(r)
			mu.Unlock()
			local.Done()
		})
		return nil
	})
	local.Wait()
	return stats, err
}

func (w *Watcher) rescan(ctx context.Context) {
	if !w.scanning.CompareAndSwap(false, true) {
		w.logger.Debug("rescan skipped: previous scan still running")
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.scanning.Store(false)
		w.intake.PruneSkipped()
		stats, err := w.scanDir(ctx, w.cfg.Folders.Hot)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("rescan failed", "error", err)
			return
		}
		if stats.Created > 0 {
			w.logger.Info("rescan picked up files", "created", stats.Created)
		}
	}()
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, e fsnotify.Event) {
	if !e.Has(fsnotify.Create) || w.excluded(e.Name) || IsHidden(e.Name) {
		return
	}
	fi, err := os.Lstat(e.Name)
	if err != nil {
		// gone already, or unreadable; the next rescan retries
		w.logger.Debug("ignoring create event", "path", e.Name, "error", err)
		return
	}
	if fi.IsDir() {
		if !w.cfg.Watch.Recursive {
			return
		}
		if err := w.addTree(fsw, e.Name); err != nil {
			w.logger.Warn("failed to add new directory to watcher", "path", e.Name, "error", err)
			return
		}
		// files may have landed before the watch was armed
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			_, _ = w.scanDir(ctx, e.Name)
		}()
		return
	}
	if !w.intake.Matches(e.Name) {
		w.logger.Debug("skipping file: no pattern match", "path", e.Name)
		return
	}
	w.spawn(ctx, e.Name, w.cfg.Watch.SettleDelay, nil)
}

// spawn runs intake for path after delay, bounded by the semaphore. done,
// when set, is always called exactly once.
func (w *Watcher) spawn(ctx context.Context, path string, delay time.Duration, done func(Result)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		res := Result{Path: path, Outcome: OutcomeFailed}
		defer func() {
			if done != nil {
				done(res)
			}
		}()

		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				res.Err = ctx.Err()
				return
			case <-t.C:
			}
		}
		if err := w.sem.Acquire(ctx, 1); err != nil {
			res.Err = err
			return
		}
		defer w.sem.Release(1)
		res = w.intake.HandlePath(ctx, path)
	}()
}

// walk calls fn for each regular file under dir, descending only when
// recursion is enabled. Hidden entries and pipeline folders nested inside
// the hot folder are skipped.
func (w *Watcher) walk(dir string, fn func(path string) error) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("scan: cannot read entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !w.cfg.Watch.Recursive || IsHidden(path) || w.excluded(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || IsHidden(path) {
			return nil
		}
		return fn(path)
	})
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	if !w.cfg.Watch.Recursive {
		return fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && (IsHidden(path) || w.excluded(path)) {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}

// excluded reports paths inside the archive, error, temp or page image
// folders, which may be configured below the hot folder.
func (w *Watcher) excluded(path string) bool {
	f := w.cfg.Folders
	for _, dir := range []string{f.Archive, f.Error, f.Temp, f.PageImages} {
		if isWithin(dir, path) {
			return true
		}
	}
	return false
}
