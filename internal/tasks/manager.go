// Package tasks runs report computations in the background so clients can
// long-poll for the result instead of holding a request open per attempt.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rongwang/debtbook-server/internal/utils"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// ErrNotFound is returned for unknown, expired or foreign task ids
var ErrNotFound = errors.New("task not found")

// Status of a task
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Task is one submitted computation
type Task[T any] struct {
	ID        string
	UserID    int64
	Key       string
	CreatedAt time.Time

	mu         sync.Mutex
	status     Status
	result     T
	err        error
	finishedAt time.Time
	done       chan struct{}
}

// Snapshot returns the current status, the result and the failure, if any
func (t *Task[T]) Snapshot() (Status, T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.result, t.err
}

// Done is closed once the task has finished, successfully or not
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

func (t *Task[T]) setRunning() {
	t.mu.Lock()
	t.status = StatusRunning
	t.mu.Unlock()
}

func (t *Task[T]) finish(result T, err error, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err != nil {
		t.status = StatusError
		t.err = err
	} else {
		t.status = StatusDone
		t.result = result
	}
	t.finishedAt = at
	close(t.done)
}

func (t *Task[T]) expired(now time.Time, ttl time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.finishedAt.IsZero() && now.Sub(t.finishedAt) >= ttl
}

// Options configures a Manager
type Options struct {
	Workers         int64         // concurrent computations, default 4
	TTL             time.Duration // how long finished tasks stay readable, default 10m
	JanitorInterval time.Duration // default TTL/2; negative disables the janitor
	Logger          *utils.Logger
	Now             func() time.Time
}

// Manager owns the running tasks. Identical submissions (same key) that
// overlap in time share one computation.
type Manager[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	group  singleflight.Group
	ttl    time.Duration
	now    func() time.Time
	logger *utils.Logger

	mu    sync.Mutex
	tasks map[string]*Task[T]

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewManager creates a manager and starts its janitor
func NewManager[T any](opts Options) *Manager[T] {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Minute
	}
	if opts.JanitorInterval == 0 {
		opts.JanitorInterval = opts.TTL / 2
	}
	if opts.Logger == nil {
		opts.Logger = utils.NopLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager[T]{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(opts.Workers),
		ttl:    opts.TTL,
		now:    opts.Now,
		logger: opts.Logger.WithComponent("tasks"),
		tasks:  make(map[string]*Task[T]),
	}

	if opts.JanitorInterval > 0 {
		m.wg.Add(1)
		go m.janitor(opts.JanitorInterval)
	}
	return m
}

// Submit registers a task for userID and starts fn in the background.
// fn receives a context that is cancelled when the manager closes.
func (m *Manager[T]) Submit(userID int64, key string, fn func(ctx context.Context) (T, error)) *Task[T] {
	task := &Task[T]{
		ID:        uuid.NewString(),
		UserID:    userID,
		Key:       key,
		CreatedAt: m.now(),
		status:    StatusPending,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(task, fn)

	return task
}

func (m *Manager[T]) run(task *Task[T], fn func(ctx context.Context) (T, error)) {
	defer m.wg.Done()

	v, err, shared := m.group.Do(task.Key, func() (interface{}, error) {
		if err := m.sem.Acquire(m.ctx, 1); err != nil {
			return nil, fmt.Errorf("waiting for a worker: %w", err)
		}
		defer m.sem.Release(1)

		task.setRunning()
		return fn(m.ctx)
	})

	var result T
	if err == nil {
		result = v.(T)
	} else {
		m.logger.Warn("Task failed", "task_id", task.ID, "error", err)
	}
	task.finish(result, err, m.now())

	if shared {
		m.logger.Debug("Task shared a computation", "task_id", task.ID, "key", task.Key)
	}
}

// Get returns the task if it exists and belongs to userID
func (m *Manager[T]) Get(userID int64, id string) (*Task[T], error) {
	m.mu.Lock()
	task, ok := m.tasks[id]
	m.mu.Unlock()

	if !ok || task.UserID != userID {
		return nil, ErrNotFound
	}
	return task, nil
}

// Wait blocks until the task finishes, wait elapses or ctx is done, and
// returns the task in whatever state it reached.
func (m *Manager[T]) Wait(ctx context.Context, userID int64, id string, wait time.Duration) (*Task[T], error) {
	task, err := m.Get(userID, id)
	if err != nil {
		return nil, err
	}
	if wait <= 0 {
		return task, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-task.Done():
	case <-timer.C:
	case <-ctx.Done():
		return task, ctx.Err()
	}
	return task, nil
}

// Sweep drops finished tasks older than the TTL and returns how many it removed
func (m *Manager[T]) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, task := range m.tasks {
		if task.expired(now, m.ttl) {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked tasks
func (m *Manager[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

func (m *Manager[T]) janitor(interval time.Duration) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Debug("Expired report tasks removed", "count", n)
			}
		}
	}
}

// Close cancels running computations and waits for the background
// goroutines to exit.
func (m *Manager[T]) Close() {
	m.closeOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
	})
}
