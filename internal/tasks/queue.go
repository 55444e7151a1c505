// Package tasks runs background jobs and records their outcome for later polling.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultWorkers keeps background builds serialized within the process.
	DefaultWorkers = 1

	// DefaultRetention is how long a finished task stays visible to Get.
	DefaultRetention = time.Hour
)

var (
	ErrQueueClosed  = errors.New("task queue closed")
	ErrTaskNotFound = errors.New("task not found")
)

// State is a task's lifecycle stage.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Func is the work a task performs. Its result is kept in the task snapshot.
type Func func(ctx context.Context) (any, error)

// Task is a snapshot of a submitted job.
type Task struct {
	ID         string
	Name       string
	State      State
	Error      string
	Result     any
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Done reports whether the task has finished.
func (t Task) Done() bool {
	return t.State == StateSucceeded || t.State == StateFailed
}

type job struct {
	id string
	fn Func
}

// Queue runs submitted jobs on a fixed set of workers.
type Queue struct {
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	// sendMu guards closed and the jobs channel; mu guards tasks.
	sendMu sync.RWMutex
	closed bool

	mu        sync.RWMutex
	tasks     map[string]*Task
	finished  []string // IDs in finish order
	retention time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithRetention sets how long finished tasks are kept. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(q *Queue) {
		q.retention = d
	}
}

// NewQueue starts workers goroutines. Jobs run under a child of ctx.
// A queue holds up to capacity waiting jobs before Submit blocks.
// Finished tasks are forgotten after the retention period.
func NewQueue(ctx context.Context, workers, capacity int, logger *slog.Logger, opts ...Option) *Queue {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if capacity < 0 {
		capacity = 0
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	q := &Queue{
		jobs:   make(chan job, capacity),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		tasks:  make(map[string]*Task),

		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(q)
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Submit enqueues fn and returns the task ID.
func (q *Queue) Submit(name string, fn Func) (string, error) {
	q.sendMu.RLock()
	defer q.sendMu.RUnlock()
	if q.closed {
		return "", ErrQueueClosed
	}

	id := uuid.New().String()
	q.mu.Lock()
	q.tasks[id] = &Task{
		ID:         id,
		Name:       name,
		State:      StateQueued,
		EnqueuedAt: time.Now(),
	}
	q.mu.Unlock()

	select {
	case q.jobs <- job{id: id, fn: fn}:
	case <-q.ctx.Done():
		q.setFinished(id, nil, q.ctx.Err())
		return "", fmt.Errorf("submit %s: %w", name, q.ctx.Err())
	}

	q.logger.Debug("Task queued", "task", id, "name", name)
	return id, nil
}

// Get returns a snapshot of task id.
func (q *Queue) Get(id string) (Task, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	t, ok := q.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return *t, nil
}

// Wait polls task id until it finishes or ctx ends.
func (q *Queue) Wait(ctx context.Context, id string) (Task, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		t, err := q.Get(id)
		if err != nil || t.Done() {
			return t, err
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops accepting work and waits for queued and running jobs to finish.
func (q *Queue) Close() {
	q.sendMu.Lock()
	if q.closed {
		q.sendMu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.sendMu.Unlock()

	q.wg.Wait()
	q.cancel()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.run(j)
	}
}

func (q *Queue) run(j job) {
	q.mu.Lock()
	t := q.tasks[j.id]
	t.State = StateRunning
	t.StartedAt = time.Now()
	name := t.Name
	q.mu.Unlock()

	q.logger.Info("Task started", "task", j.id, "name", name)

	result, err := safeCall(q.ctx, j.fn)
	q.setFinished(j.id, result, err)

	if err != nil {
		q.logger.Warn("Task failed", "task", j.id, "name", name, "error", err)
		return
	}
	q.logger.Info("Task succeeded", "task", j.id, "name", name)
}

func (q *Queue) setFinished(id string, result any, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	q.evict(now)

	t := q.tasks[id]
	t.FinishedAt = now
	t.Result = result
	q.finished = append(q.finished, id)
	if err != nil {
		t.State = StateFailed
		t.Error = err.Error()
		return
	}
	t.State = StateSucceeded
}

// evict drops finished tasks older than the retention period. Callers hold mu.
func (q *Queue) evict(now time.Time) {
	if q.retention <= 0 {
		return
	}
	n := 0
	for _, id := range q.finished {
		if now.Sub(q.tasks[id].FinishedAt) < q.retention {
			break
		}
		delete(q.tasks, id)
		n++
	}
	q.finished = q.finished[n:]
}

func safeCall(ctx context.Context, fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx)
}
