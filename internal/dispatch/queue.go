// Package dispatch runs detached side effects on a bounded worker pool.
// Work submitted here never reports back to the caller that submitted it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"
)

var (
	tasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskhub_dispatch_tasks_total",
		Help: "Detached tasks by kind and outcome",
	}, []string{"kind", "outcome"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "taskhub_dispatch_queue_depth",
		Help: "Detached tasks waiting for a worker",
	})
)

const (
	outcomeOK      = "ok"
	outcomeFailed  = "failed"
	outcomeDropped = "dropped"
	outcomePanic   = "panic"
)

// Task is one unit of detached work. Kind labels logs and metrics.
type Task struct {
	Kind string
	Run  func(ctx context.Context) error
}

type Config struct {
	Workers         int
	QueueSize       int
	MaxAttempts     uint
	InitialInterval time.Duration
	TaskTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 1
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 100 * time.Millisecond
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Second
	}
	return c
}

type Queue struct {
	cfg    Config
	logger *slog.Logger
	tasks  chan Task

	mu     sync.RWMutex
	closed bool

	runCtx context.Context
	cancel context.CancelFunc
	group  errgroup.Group
}

// Start launches the workers. The queue accepts work until Close.
func Start(cfg Config, logger *slog.Logger) *Queue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "dispatch")),
		tasks:  make(chan Task, cfg.QueueSize),
		runCtx: ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		q.group.Go(q.work)
	}
	return q
}

// Submit enqueues task without blocking. It reports false when the queue is
// full or closed; the task is then dropped.
func (q *Queue) Submit(task Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		tasksTotal.WithLabelValues(task.Kind, outcomeDropped).Inc()
		q.logger.Warn("task dropped: queue closed", slog.String("kind", task.Kind))
		return false
	}
	select {
	case q.tasks <- task:
		queueDepth.Inc()
		return true
	default:
		tasksTotal.WithLabelValues(task.Kind, outcomeDropped).Inc()
		q.logger.Warn("task dropped: queue full", slog.String("kind", task.Kind), slog.Int("capacity", q.cfg.QueueSize))
		return false
	}
}

// Close stops intake and waits for queued work to finish. When ctx ends
// first, running tasks are cancelled and ctx's error is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = q.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *Queue) work() error {
	for task := range q.tasks {
		queueDepth.Dec()
		q.run(task)
	}
	return nil
}

func (q *Queue) run(task Task) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = q.cfg.InitialInterval

	attempt := 0
	_, err := backoff.Retry(q.runCtx, func() (struct{}, error) {
		attempt++
		return struct{}{}, q.attempt(task)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(q.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			q.logger.Debug("retrying task", slog.String("kind", task.Kind), slog.Int("attempt", attempt), slog.Duration("wait", wait), slog.String("error", err.Error()))
		}),
	)

	var panicked *panicError
	switch {
	case err == nil:
		tasksTotal.WithLabelValues(task.Kind, outcomeOK).Inc()
	case errors.As(err, &panicked):
		tasksTotal.WithLabelValues(task.Kind, outcomePanic).Inc()
		q.logger.Error("task panicked", slog.String("kind", task.Kind), slog.String("panic", panicked.Error()))
	default:
		tasksTotal.WithLabelValues(task.Kind, outcomeFailed).Inc()
		q.logger.Error("task failed", slog.String("kind", task.Kind), slog.Int("attempts", attempt), slog.String("error", err.Error()))
	}
}

type panicError struct {
	value any
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

func (q *Queue) attempt(task Task) (err error) {
	ctx, cancel := context.WithTimeout(q.runCtx, q.cfg.TaskTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = backoff.Permanent(&panicError{value: r})
		}
	}()
	return task.Run(ctx)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
