// Package ephemeral runs one-shot deferred actions that can be cancelled
// before they fire. Tasks are deduplicated by a caller-chosen key and are
// never persisted.
package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

var (
	ErrEmptyKey     = errors.New("ephemeral: task key must not be empty")
	ErrNilAction    = errors.New("ephemeral: task action must not be nil")
	ErrInvalidDelay = errors.New("ephemeral: task delay must not be negative")
	ErrClosed       = errors.New("ephemeral: scheduler is closed")
)

// Action is the deferred operation of a task. The context is the one given
// to New.
type Action func(ctx context.Context) error

// Logger receives events about tasks whose action failed.
type Logger interface {
	Log(eventType string, details map[string]any)
}

type taskState uint8

const (
	statePending taskState = iota
	stateFired
	stateCancelled
)

type task struct {
	id     uuid.UUID
	key    string
	dueAt  time.Time
	action Action
	timer  clockwork.Timer
	state  taskState
}

// Scheduler holds at most one pending task per key.
type Scheduler struct {
	ctx    context.Context
	logger Logger
	clock  clockwork.Clock

	mu      sync.Mutex
	tasks   map[string]*task
	running sync.WaitGroup
	closed  bool
}

// New creates a new Scheduler. Actions are called with ctx. Failed actions are
// reported to logger, which may be nil. If c is nil, the real clock is used.
func New(ctx context.Context, logger Logger, c clockwork.Clock) *Scheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Scheduler{
		ctx:    ctx,
		logger: logger,
		clock:  c,
		tasks:  make(map[string]*task),
	}
}

// Schedule registers action to run once after delay. Any task already pending
// under key is cancelled first; the old and the new task can never both run.
func (s *Scheduler) Schedule(key string, delay time.Duration, action Action) (*Handle, error) {
	switch {
	case key == "":
		return nil, ErrEmptyKey
	case action == nil:
		return nil, ErrNilAction
	case delay < 0:
		return nil, fmt.Errorf("%w (got %v)", ErrInvalidDelay, delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if old, ok := s.tasks[key]; ok {
		s.cancelLocked(old)
	}

	t := &task{
		id:     uuid.New(),
		key:    key,
		dueAt:  s.clock.Now().Add(delay),
		action: action,
	}
	t.timer = s.clock.AfterFunc(delay, func() { s.fire(t) })
	s.tasks[key] = t

	return &Handle{s: s, t: t}, nil
}

// Cancel cancels the task pending under key. It returns false if there was
// none, which is not an error.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	s.cancelLocked(t)
	return true
}

// Pending returns true if a task is pending under key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels every pending task and waits for actions that are already
// running to return. Schedule fails with ErrClosed afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, t := range s.tasks {
		s.cancelLocked(t)
	}
	s.mu.Unlock()

	s.running.Wait()
}

func (s *Scheduler) cancelLocked(t *task) {
	if t.state != statePending {
		return
	}
	t.state = stateCancelled
	t.timer.Stop()
	if s.tasks[t.key] == t {
		delete(s.tasks, t.key)
	}
}

func (s *Scheduler) fire(t *task) {
	s.mu.Lock()
	if t.state != statePending || s.tasks[t.key] != t {
		s.mu.Unlock()
		return
	}
	t.state = stateFired
	delete(s.tasks, t.key)
	s.running.Add(1)
	s.mu.Unlock()

	defer s.running.Done()
	s.run(t)
}

func (s *Scheduler) run(t *task) {
	defer func() {
		if v := recover(); v != nil {
			s.report(t, fmt.Errorf("panic: %v", v))
		}
	}()

	if err := t.action(s.ctx); err != nil {
		s.report(t, err)
	}
}

func (s *Scheduler) report(t *task, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Log("ephemeral_task_failed", map[string]any{
		"task_key": t.key,
		"task_id":  t.id.String(),
		"due_at":   t.dueAt,
		"err":      err.Error(),
	})
}

// Handle refers to a single scheduled task.
type Handle struct {
	s *Scheduler
	t *task
}

// ID returns the unique ID of the task.
func (h *Handle) ID() uuid.UUID { return h.t.id }

// Key returns the key the task was scheduled under.
func (h *Handle) Key() string { return h.t.key }

// DueAt returns the instant the task is due to fire.
func (h *Handle) DueAt() time.Time { return h.t.dueAt }

// Cancel cancels this task if it is still pending. A newer task scheduled
// under the same key is not affected.
func (h *Handle) Cancel() bool {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	if h.t.state != statePending {
		return false
	}
	h.s.cancelLocked(h.t)
	return true
}
