package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/async"
	"github.com/joseph-ayodele/docintake/internal/ingest"
	"github.com/joseph-ayodele/docintake/internal/pipeline"
)

var (
	_ ingest.Observer   = (*Metrics)(nil)
	_ async.Observer    = (*Metrics)(nil)
	_ pipeline.Observer = (*Metrics)(nil)
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveIntake(ingest.OutcomeCreated.String())
	m.ObserveIntake(ingest.OutcomeDuplicate.String())
	m.ObserveIntake(ingest.OutcomeDuplicate.String())
	m.SetActive(2)
	m.SetQueueDepth(5)
	m.ObserveTask("ok", time.Second)
	m.ObserveTask("panic", time.Millisecond)
	m.ObserveBatch(constants.BatchStatusCompleted, 2*time.Second, 3)
	m.ObserveBatch(constants.BatchStatusError, 0, 1)

	if got := testutil.ToFloat64(m.intake.WithLabelValues("duplicate")); got != 2 {
		t.Fatalf("duplicate intake = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.active); got != 2 {
		t.Fatalf("active = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.queueDepth); got != 5 {
		t.Fatalf("queue depth = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.tasks.WithLabelValues("panic")); got != 1 {
		t.Fatalf("panic tasks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.batches.WithLabelValues("error")); got != 1 {
		t.Fatalf("error batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.pages); got != 4 {
		t.Fatalf("pages = %v, want 4", got)
	}
	if n := testutil.CollectAndCount(m.batchTime); n != 1 {
		t.Fatalf("batch histogram series = %d, want 1", n)
	}
	if n, err := testutil.GatherAndCount(reg); err != nil || n == 0 {
		t.Fatalf("GatherAndCount = %d, %v", n, err)
	}
}
