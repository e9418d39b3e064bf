// Package worker runs background tasks on a fixed set of goroutines fed by a
// bounded queue, separate from request-serving goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("worker queue full")
	// ErrStopped is returned by Submit after Stop.
	ErrStopped = errors.New("worker pool stopped")
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tasks_total",
			Help: "Background tasks run by the worker pool, by outcome",
		},
		[]string{"pool", "task", "outcome"},
	)

	taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_task_duration_seconds",
			Help:    "Duration of background tasks",
			Buckets: []float64{.01, .1, .5, 1, 5, 15, 60, 300, 900},
		},
		[]string{"pool", "task"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Tasks waiting in the worker pool queue",
		},
		[]string{"pool"},
	)
)

// Task is a unit of background work. ctx is canceled when the pool is
// stopped without enough time to drain.
type Task func(ctx context.Context) error

type job struct {
	name string
	fn   Task
}

// Config sizes a Pool.
type Config struct {
	Name      string
	Workers   int
	QueueSize int
}

// Pool executes submitted tasks on Config.Workers goroutines.
type Pool struct {
	name   string
	queue  chan job
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu      sync.RWMutex
	stopped bool
}

// New starts the workers. Task contexts derive from ctx.
func New(ctx context.Context, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		name:   cfg.Name,
		queue:  make(chan job, cfg.QueueSize),
		group:  &errgroup.Group{},
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

// Submit enqueues fn without blocking.
func (p *Pool) Submit(name string, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}

	select {
	case p.queue <- job{name: name, fn: fn}:
		queueDepth.WithLabelValues(p.name).Inc()
		return nil
	default:
		tasksTotal.WithLabelValues(p.name, name, "rejected").Inc()
		return fmt.Errorf("submit %s: %w", name, ErrQueueFull)
	}
}

// Stop refuses new tasks and waits for queued and running ones. If ctx ends
// first, task contexts are canceled and Stop waits for the workers to return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("stop worker pool %s: %w", p.name, ctx.Err())
	}
}

func (p *Pool) work() error {
	for j := range p.queue {
		queueDepth.WithLabelValues(p.name).Dec()
		p.run(j)
	}
	return nil
}

func (p *Pool) run(j job) {
	start := time.Now()
	outcome := "ok"
	defer func() {
		if rec := recover(); rec != nil {
			outcome = "panic"
			p.logger.Error("worker task panicked",
				slog.String("task", j.name),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
		}
		taskDuration.WithLabelValues(p.name, j.name).Observe(time.Since(start).Seconds())
		tasksTotal.WithLabelValues(p.name, j.name, outcome).Inc()
	}()

	if err := j.fn(p.ctx); err != nil {
		outcome = "error"
		p.logger.Warn("worker task failed",
			slog.String("task", j.name),
			slog.String("error", err.Error()),
		)
	}
}
