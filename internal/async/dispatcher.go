package async

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docintake/internal/common"
)

// Processor runs one batch to a terminal state.
type Processor interface {
	ProcessBatch(ctx context.Context, id uuid.UUID) error
}

// Observer receives dispatcher gauges and task outcomes.
type Observer interface {
	SetActive(n int)
	SetQueueDepth(n int)
	ObserveTask(outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) SetActive(int) {}
func (nopObserver) SetQueueDepth(int) {}
func (nopObserver) ObserveTask(string, time.Duration) {}

// Dispatcher runs batches on a fixed number of workers. Submit never blocks:
// requests beyond the worker count wait in an unbounded FIFO.
type Dispatcher struct {
	proc    Processor
	logger  *slog.Logger
	obs     Observer
	workers int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []uuid.UUID
	queued map[uuid.UUID]struct{}
	active map[uuid.UUID]time.Time
	rerun  map[uuid.UUID]struct{}
	closed bool

	wg   sync.WaitGroup
	once sync.Once
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.obs = o
		}
	}
}

func NewDispatcher(proc Processor, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		proc:    proc,
		logger:  logger.With("component", "dispatcher"),
		obs:     nopObserver{},
		workers: 2,
		queued:  make(map[uuid.UUID]struct{}),
		active:  make(map[uuid.UUID]time.Time),
		rerun:   make(map[uuid.UUID]struct{}),
	}
	d.cond = sync.NewCond(&d.mu)
	for _, o := range opts {
		o(d)
	}
	d.start()
	return d
}

func (d *Dispatcher) start() {
	d.once.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.worker(i + 1)
		}
		d.logger.Info("dispatcher started", "workers", d.workers)
	})
}

// Submit queues id for processing and returns immediately. It reports
// whether id is now queued or running; false means the dispatcher is shut
// down. An id already queued is not queued twice. An id submitted while it
// is running is queued again once the running task ends.
func (d *Dispatcher) Submit(id uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("cannot submit: dispatcher is shutting down", "batch_id", id)
		return false
	}
	if _, ok := d.queued[id]; ok {
		d.logger.Debug("batch already queued", "batch_id", id)
		return true
	}
	if _, ok := d.active[id]; ok {
		d.rerun[id] = struct{}{}
		d.logger.Info("batch running; queued to run again when it finishes", "batch_id", id)
		return true
	}
	d.push(id)
	d.logger.Info("queued batch for processing", "batch_id", id, "queue_depth", len(d.queue))
	return true
}

// push requires d.mu.
func (d *Dispatcher) push(id uuid.UUID) {
	d.queue = append(d.queue, id)
	d.queued[id] = struct{}{}
	d.obs.SetQueueDepth(len(d.queue))
	d.cond.Signal()
}

func (d *Dispatcher) worker(workerID int) {
	defer d.wg.Done()
	d.logger.Debug("worker started", "worker_id", workerID)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			d.logger.Debug("worker stopped", "worker_id", workerID)
			return
		}
		id := d.queue[0]
		d.queue[0] = uuid.Nil
		d.queue = d.queue[1:]
		delete(d.queued, id)
		d.active[id] = time.Now()
		d.obs.SetQueueDepth(len(d.queue))
		d.obs.SetActive(len(d.active))
		d.mu.Unlock()

		d.run(workerID, id)

		d.mu.Lock()
		delete(d.active, id)
		d.obs.SetActive(len(d.active))
		if _, again := d.rerun[id]; again {
			delete(d.rerun, id)
			if !d.closed {
				d.push(id)
			}
		}
		d.mu.Unlock()
	}
}

// run executes one task. Errors and panics stay inside the worker.
func (d *Dispatcher) run(workerID int, id uuid.UUID) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			d.logger.Error("task panicked",
				"worker_id", workerID, "batch_id", id,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
		d.obs.ObserveTask(outcome, time.Since(start))
	}()

	ctx := common.WithWorkerID(common.WithBatchID(context.Background(), id), workerID)
	if err := d.proc.ProcessBatch(ctx, id); err != nil {
		outcome = "error"
		d.logger.Error("processing failed", "worker_id", workerID, "batch_id", id, "error", err)
		return
	}
	d.logger.Info("processed batch", "worker_id", workerID, "batch_id", id, "elapsed", time.Since(start))
}

// Active returns the ids currently being processed.
func (d *Dispatcher) Active() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]uuid.UUID, 0, len(d.active))
	for id := range d.active {
		out = append(out, id)
	}
	return out
}

func (d *Dispatcher) ActiveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.active)
}

func (d *Dispatcher) QueueDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Drain blocks until nothing is queued or running, or ctx is done. It does
// not stop the dispatcher; one-shot tools call it before Shutdown.
func (d *Dispatcher) Drain(ctx context.Context) error {
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		d.mu.Lock()
		idle := len(d.queue) == 0 && len(d.active) == 0
		d.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Shutdown stops accepting work. Running tasks are never interrupted.
// With wait set, queued batches still run and Shutdown blocks until the
// workers finish; if ctx ends first, whatever is still queued is dropped.
// Without wait, queued batches are dropped at once. Dropped batches stay
// Pending in the store.
func (d *Dispatcher) Shutdown(ctx context.Context, wait bool) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		d.rerun = make(map[uuid.UUID]struct{})
		d.cond.Broadcast()
	}
	if !wait {
		d.dropQueued()
	}
	d.mu.Unlock()

	if !wait {
		return nil
	}

	done := make(chan struct{})
	go func() { defer close(done); d.wg.Wait() }()

	select {
	case <-ctx.Done():
		d.mu.Lock()
		d.dropQueued()
		d.mu.Unlock()
		d.logger.Warn("shutdown interrupted by context", "active", d.ActiveCount())
		return ctx.Err()
	case <-done:
		d.logger.Info("dispatcher drained, shutdown complete")
		return nil
	}
}

// dropQueued requires d.mu.
func (d *Dispatcher) dropQueued() {
	if n := len(d.queue); n > 0 {
		d.logger.Info("dropping queued batches; they remain pending", "count", n)
	}
	d.queue = nil
	d.queued = make(map[uuid.UUID]struct{})
	d.obs.SetQueueDepth(0)
}
