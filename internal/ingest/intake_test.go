package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/dedup"
	"github.com/joseph-ayodele/docintake/internal/entity"
)

type memBatches struct {
	mu      sync.Mutex
	batches []*entity.Batch
	fail    error
}

func (m *memBatches) Create(_ context.Context, b *entity.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	b.ID = uuid.New()
	m.batches = append(m.batches, b)
	return nil
}

func (m *memBatches) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

type recordingSubmitter struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (s *recordingSubmitter) Submit(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return true
}

func (s *recordingSubmitter) submitted() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uuid.UUID(nil), s.ids...)
}

type countingObserver struct {
	mu   sync.Mutex
	seen map[string]int
}

func (o *countingObserver) ObserveIntake(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = map[string]int{}
	}
	o.seen[outcome]++
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	root := t.TempDir()
	cfg := common.DefaultConfig()
	cfg.Folders = common.FolderConfig{
		Hot:        filepath.Join(root, "hot"),
		Archive:    filepath.Join(root, "archive"),
		Error:      filepath.Join(root, "error"),
		Temp:       filepath.Join(root, "tmp"),
		PageImages: filepath.Join(root, "pages"),
	}
	cfg.Watch.Patterns = []string{"*.pdf"}
	cfg.Watch.MaxFileSizeMB = 1
	cfg.Watch.SettleDelay = 0
	cfg.Watch.PollInterval = 0
	if err := cfg.EnsureFolders(); err != nil {
		t.Fatalf("EnsureFolders: %v", err)
	}
	return cfg
}

func write(t *testing.T, path string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestHandlePathCreatesAndSubmits(t *testing.T) {
	cfg := testConfig(t)
	store := &memBatches{}
	sub := &recordingSubmitter{}
	obs := &countingObserver{}
	in := NewIntake(cfg, store, dedup.New(), sub, testLogger(), WithObserver(obs))

	p := write(t, filepath.Join(cfg.Folders.Hot, "a.pdf"), []byte("%PDF-1.4 one"))
	res := in.HandlePath(context.Background(), p)
	if res.Outcome != OutcomeCreated {
		t.Fatalf("outcome = %v (%v), want created", res.Outcome, res.Err)
	}
	if store.count() != 1 {
		t.Fatalf("batches = %d, want 1", store.count())
	}
	b := store.batches[0]
	if b.OriginalPath != p || b.Filename != "a.pdf" || b.SizeBytes != int64(len("%PDF-1.4 one")) {
		t.Fatalf("batch = %+v", b)
	}
	if got := sub.submitted(); len(got) != 1 || got[0] != res.BatchID {
		t.Fatalf("submitted = %v, want [%s]", got, res.BatchID)
	}
	if obs.seen["created"] != 1 {
		t.Fatalf("observer = %v, want created=1", obs.seen)
	}
}

func TestHandlePathNoAutoStart(t *testing.T) {
	cfg := testConfig(t)
	cfg.Processing.AutoStart = false
	sub := &recordingSubmitter{}
	in := NewIntake(cfg, &memBatches{}, dedup.New(), sub, testLogger())

	p := write(t, filepath.Join(cfg.Folders.Hot, "a.pdf"), []byte("x"))
	if res := in.HandlePath(context.Background(), p); res.Outcome != OutcomeCreated {
		t.Fatalf("outcome = %v, want created", res.Outcome)
	}
	if len(sub.submitted()) != 0 {
		t.Fatalf("batch submitted with auto-processing off")
	}
}

func TestDuplicateContentUnderDifferentName(t *testing.T) {
	cfg := testConfig(t)
	store := &memBatches{}
	in := NewIntake(cfg, store, dedup.New(), nil, testLogger())

	data := []byte("%PDF-1.4 same bytes")
	first := write(t, filepath.Join(cfg.Folders.Hot, "first.pdf"), data)
	second := write(t, filepath.Join(cfg.Folders.Hot, "second.pdf"), data)

	if res := in.HandlePath(context.Background(), first); res.Outcome != OutcomeCreated {
		t.Fatalf("first outcome = %v", res.Outcome)
	}
	if res := in.HandlePath(context.Background(), second); res.Outcome != OutcomeDuplicate {
		t.Fatalf("second outcome = %v, want duplicate", res.Outcome)
	}
	// rescans of the unchanged duplicate are answered from the skip cache
	if res := in.HandlePath(context.Background(), second); res.Outcome != OutcomeDuplicate {
		t.Fatalf("repeat outcome = %v, want duplicate", res.Outcome)
	}
	if store.count() != 1 {
		t.Fatalf("batches = %d, want 1", store.count())
	}
}

func TestValidateOrder(t *testing.T) {
	cfg := testConfig(t)
	in := NewIntake(cfg, &memBatches{}, dedup.New(), nil, testLogger())
	ctx := context.Background()

	big := make([]byte, 2*1024*1024)
	tooBig := write(t, filepath.Join(cfg.Folders.Hot, "big.pdf"), big)
	wrongName := write(t, filepath.Join(cfg.Folders.Hot, "big.txt"), big)

	if _, o, _ := in.Validate(ctx, wrongName); o != OutcomePatternMismatch {
		t.Fatalf("pattern check outcome = %v, want pattern_mismatch", o)
	}
	if _, o, _ := in.Validate(ctx, tooBig); o != OutcomeTooLarge {
		t.Fatalf("size check outcome = %v, want too_large", o)
	}
	if _, o, err := in.Validate(ctx, filepath.Join(cfg.Folders.Hot, "missing.pdf")); o != OutcomeFailed || err == nil {
		t.Fatalf("missing file outcome = %v err = %v, want failed with error", o, err)
	}
	if _, err := os.Stat(tooBig); err != nil {
		t.Fatalf("oversized file was touched: %v", err)
	}
}

func TestRegisterReleasesHashOnStoreFailure(t *testing.T) {
	cfg := testConfig(t)
	store := &memBatches{fail: errors.New("db down")}
	idx := dedup.New()
	in := NewIntake(cfg, store, idx, nil, testLogger())

	p := write(t, filepath.Join(cfg.Folders.Hot, "a.pdf"), []byte("payload"))
	res := in.HandlePath(context.Background(), p)
	if res.Outcome != OutcomeFailed || res.Err == nil {
		t.Fatalf("outcome = %v err = %v, want failed", res.Outcome, res.Err)
	}
	if idx.Contains(res.Hash) {
		t.Fatalf("hash kept in index after failed batch write")
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("file moved or removed after failure: %v", err)
	}

	store.fail = nil
	if res := in.HandlePath(context.Background(), p); res.Outcome != OutcomeCreated {
		t.Fatalf("retry outcome = %v, want created", res.Outcome)
	}
}

func TestMatchPatterns(t *testing.T) {
	root := "/hot"
	cases := []struct {
		patterns []string
		path     string
		want     bool
	}{
		{[]string{"*.pdf"}, "/hot/a.pdf", true},
		{[]string{"*.pdf"}, "/hot/sub/a.pdf", true},
		{[]string{"*.pdf"}, "/hot/a.PDF", false},
		{[]string{"*.png", "*.pdf"}, "/hot/a.pdf", true},
		{[]string{"invoices/**/*.pdf"}, "/hot/invoices/2024/a.pdf", true},
		{[]string{"invoices/**/*.pdf"}, "/hot/other/a.pdf", false},
		{[]string{"[bad"}, "/hot/a.pdf", false},
	}
	for _, c := range cases {
		if got := MatchPatterns(c.patterns, root, c.path); got != c.want {
			t.Fatalf("MatchPatterns(%v, %q) = %v, want %v", c.patterns, c.path, got, c.want)
		}
	}
}

func TestHashFile(t *testing.T) {
	p := write(t, filepath.Join(t.TempDir(), "f"), []byte("abc"))
	h, n, err := HashFile(p)
	if err != nil {
		t.Fatalf("HashFile: %v", err)
	}
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if h != want || n != 3 {
		t.Fatalf("HashFile = %s, %d; want %s, 3", h, n, want)
	}
}
