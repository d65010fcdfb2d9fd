// Package queue runs risk work asynchronously: an in-process dispatcher with
// a bounded buffer, a fixed worker pool, bounded retries, and a dead-letter
// hook for tasks that exhaust them. Tasks are optionally persisted so pending
// work survives a restart. Delivery is at-least-once; handlers must be
// idempotent.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/riskcore/internal/idgen"
	"github.com/mbd888/riskcore/internal/metrics"
	"github.com/mbd888/riskcore/internal/traces"
)

// TaskType identifies the handler a task is routed to.
type TaskType string

const (
	TaskFraudAnalysis  TaskType = "fraud_analysis"
	TaskCreditCheck    TaskType = "credit_check"
	TaskPeriodicReview TaskType = "periodic_review"
)

// Task statuses as persisted.
const (
	StatusPending    = "pending"
	StatusDone       = "done"
	StatusDeadLetter = "dead_letter"
)

var (
	ErrQueueFull        = errors.New("queue full")
	ErrUnknownTaskType  = errors.New("no handler registered for task type")
	ErrDispatcherClosed = errors.New("dispatcher not running")
)

// Task is one unit of queued work.
type Task struct {
	ID            string            `json:"id"`
	Type          TaskType          `json:"type"`
	SubjectID     string            `json:"subjectId,omitempty"`
	TransactionID string            `json:"transactionId,omitempty"`
	Amount        float64           `json:"amount,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Attempts      int               `json:"attempts"`
	MaxAttempts   int               `json:"maxAttempts"`
	EnqueuedAt    time.Time         `json:"enqueuedAt"`
}

// Handler processes one task. A returned error schedules a retry.
type Handler func(ctx context.Context, t *Task) error

// DeadLetterFunc is invoked after a task exhausts its retries.
type DeadLetterFunc func(ctx context.Context, t *Task, err error)

// TaskStore persists task state so pending work survives a restart.
type TaskStore interface {
	Save(ctx context.Context, t *Task) error
	SetStatus(ctx context.Context, id, status string, attempts int, lastError string) error
	LoadPending(ctx context.Context, limit int) ([]*Task, error)
}

const (
	defaultBuffer      = 256
	defaultMaxAttempts = 3
	retryBaseDelay     = 500 * time.Millisecond
	retryMaxDelay      = 30 * time.Second
)

// Dispatcher routes tasks to registered handlers across a worker pool.
type Dispatcher struct {
	tasks       chan *Task
	handlers    map[TaskType]Handler
	deadLetter  DeadLetterFunc
	store       TaskStore // optional
	workers     int
	maxAttempts int
	logger      *slog.Logger
	running     atomic.Bool
	wg          sync.WaitGroup
	retryWG     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given worker count. store and
// deadLetter may be nil.
func NewDispatcher(workers, maxAttempts int, store TaskStore, deadLetter DeadLetterFunc, logger *slog.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Dispatcher{
		tasks:       make(chan *Task, defaultBuffer),
		handlers:    make(map[TaskType]Handler),
		deadLetter:  deadLetter,
		store:       store,
		workers:     workers,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Register binds a handler to a task type. Call before Start.
func (d *Dispatcher) Register(t TaskType, h Handler) {
	d.handlers[t] = h
}

// Running reports whether the worker pool is active.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Enqueue queues a task. Fills in ID, attempt budget, and enqueue time.
// Fails fast with ErrQueueFull instead of blocking request handlers.
func (d *Dispatcher) Enqueue(ctx context.Context, t *Task) error {
	if _, ok := d.handlers[t.Type]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTaskType, t.Type)
	}
	if t.ID == "" {
		t.ID = idgen.WithPrefix("task_")
	}
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = d.maxAttempts
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}

	if d.store != nil {
		if err := d.store.Save(ctx, t); err != nil {
			// The task still runs; it just won't survive a restart.
			d.logger.Warn("failed to persist task", "task_id", t.ID, "error", err)
		}
	}

	select {
	case d.tasks <- t:
		metrics.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Start recovers persisted pending tasks and runs the worker pool until ctx
// is cancelled. Blocks; run in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.running.Store(true)
	defer d.running.Store(false)

	d.recoverPending(ctx)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	<-ctx.Done()
	d.wg.Wait()
	d.retryWG.Wait()
}

func (d *Dispatcher) recoverPending(ctx context.Context) {
	if d.store == nil {
		return
	}
	pending, err := d.store.LoadPending(ctx, defaultBuffer)
	if err != nil {
		d.logger.Error("failed to recover pending tasks", "error", err)
		return
	}
	for _, t := range pending {
		select {
		case d.tasks <- t:
			metrics.QueueDepth.Inc()
		default:
			d.logger.Warn("queue full during recovery, task left pending", "task_id", t.ID)
			return
		}
	}
	if len(pending) > 0 {
		d.logger.Info("recovered pending tasks", "count", len(pending))
	}
}

func (d *Dispatcher) worker(ctx context.Context, n int) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.tasks:
			metrics.QueueDepth.Dec()
			d.process(ctx, t)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, t *Task) {
	handler := d.handlers[t.Type]

	ctx, span := traces.StartSpan(ctx, "queue.process", traces.TaskType(string(t.Type)))
	defer span.End()

	err := d.safeHandle(ctx, handler, t)
	if err == nil {
		metrics.TasksProcessedTotal.WithLabelValues(string(t.Type), "ok").Inc()
		d.markStatus(t, StatusDone, "")
		return
	}

	t.Attempts++
	if t.Attempts >= t.MaxAttempts {
		metrics.TasksProcessedTotal.WithLabelValues(string(t.Type), "dead_letter").Inc()
		metrics.TasksDeadLetteredTotal.WithLabelValues(string(t.Type)).Inc()
		d.logger.Error("task dead-lettered",
			"task_id", t.ID, "type", t.Type, "attempts", t.Attempts, "error", err)
		d.markStatus(t, StatusDeadLetter, err.Error())
		if d.deadLetter != nil {
			d.deadLetter(ctx, t, err)
		}
		return
	}

	metrics.TasksProcessedTotal.WithLabelValues(string(t.Type), "retry").Inc()
	d.markStatus(t, StatusPending, err.Error())
	delay := retryDelay(t.Attempts)
	d.logger.Warn("task failed, retrying",
		"task_id", t.ID, "type", t.Type, "attempt", t.Attempts, "delay", delay, "error", err)

	d.retryWG.Add(1)
	time.AfterFunc(delay, func() {
		defer d.retryWG.Done()
		select {
		case d.tasks <- t:
			metrics.QueueDepth.Inc()
		default:
			// Buffer full on requeue: treat as dead-lettered rather than
			// dropping silently.
			metrics.TasksDeadLetteredTotal.WithLabelValues(string(t.Type)).Inc()
			d.markStatus(t, StatusDeadLetter, "queue full on retry")
			if d.deadLetter != nil {
				d.deadLetter(context.Background(), t, ErrQueueFull)
			}
		}
	})
}

func (d *Dispatcher) safeHandle(ctx context.Context, h Handler, t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in task handler", "task_id", t.ID, "type", t.Type, "panic", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, t)
}

func (d *Dispatcher) markStatus(t *Task, status, lastError string) {
	if d.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.store.SetStatus(ctx, t.ID, status, t.Attempts, lastError); err != nil {
		d.logger.Warn("failed to update task status", "task_id", t.ID, "error", err)
	}
}

// retryDelay doubles per attempt, capped.
func retryDelay(attempt int) time.Duration {
	delay := retryBaseDelay << uint(attempt-1)
	if delay > retryMaxDelay || delay <= 0 {
		return retryMaxDelay
	}
	return delay
}
