package routine

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// Handler processes work bound to an id specific context.
// Returning an error triggers the associated Task OnError lifecycle hook.
type Handler func(ctx context.Context) error

var (
	ErrEmptyID          = errors.New("routine manager: empty id")
	ErrNilHandler       = errors.New("routine manager: nil handler")
	ErrRoutineExists    = errors.New("routine manager: routine already running")
	ErrRoutineNotFound  = errors.New("routine manager: routine not found")
	ErrNilTask          = errors.New("routine manager: nil task")
	ErrTaskHandlerUnset = errors.New("routine manager: task handler not set")
	ErrManagerClosed    = errors.New("routine manager: closed")
)

// Manager runs named background routines and tears them down on request.
// A routine id is unique while the routine is running.
type Manager struct {
	baseCtx context.Context
	mu      sync.RWMutex
	tasks   map[string]*Task
	closed  bool
}

// Task wraps a handler, its runtime state, and lifecycle callbacks.
type Task struct {
	ID      string
	Handler Handler

	OnStart func(string)
	OnDone  func(string)
	OnError func(string, error)

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(ctx context.Context) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Manager{
		baseCtx: ctx,
		tasks:   make(map[string]*Task),
	}
}

// Run starts a task with the bare id/handler pair.
// Prefer RunTask when lifecycle hooks are needed.
func (m *Manager) Run(id string, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}
	return m.RunTask(&Task{ID: id, Handler: handler})
}

// RunTask starts the provided task and wires up bookkeeping.
func (m *Manager) RunTask(task *Task) error {
	if task == nil {
		return ErrNilTask
	}
	if task.ID == "" {
		return ErrEmptyID
	}
	if task.Handler == nil {
		return ErrTaskHandlerUnset
	}

	m.mu.Lock()
	m.ensureState()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if _, exists := m.tasks[task.ID]; exists {
		m.mu.Unlock()
		return ErrRoutineExists
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	task.cancel = cancel
	task.done = make(chan struct{})
	m.tasks[task.ID] = task
	m.mu.Unlock()

	go m.run(ctx, task)
	return nil
}

// Running reports whether a routine with the given id is alive.
func (m *Manager) Running(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.tasks[id]
	return ok
}

// IDs returns the ids of the running routines in lexical order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) Shutdown(id string) error {
	if id == "" {
		return ErrEmptyID
	}

	m.mu.RLock()
	task, ok := m.tasks[id]
	m.mu.RUnlock()
	if !ok {
		return ErrRoutineNotFound
	}

	task.cancel()
	<-task.done
	return nil
}

// ShutdownAll cancels every running routine, waits for all of them to
// return and refuses new tasks afterwards.
func (m *Manager) ShutdownAll() error {
	m.mu.Lock()
	m.closed = true
	tasks := make([]*Task, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, task)
	}
	m.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
	}
	for _, task := range tasks {
		<-task.done
	}
	return nil
}

func (m *Manager) run(ctx context.Context, task *Task) {
	defer func() {
		m.cleanup(task.ID, task)
		close(task.done)
		if task.OnDone != nil {
			task.OnDone(task.ID)
		}
	}()
	if task.OnStart != nil {
		task.OnStart(task.ID)
	}
	if err := task.Handler(ctx); err != nil && task.OnError != nil {
		task.OnError(task.ID, err)
	}
}

func (m *Manager) cleanup(id string, task *Task) {
	m.mu.Lock()
	if current, ok := m.tasks[id]; ok && current == task {
		delete(m.tasks, id)
	}
	m.mu.Unlock()
}

func (m *Manager) ensureState() {
	if m.baseCtx == nil {
		m.baseCtx = context.Background()
	}
	if m.tasks == nil {
		m.tasks = make(map[string]*Task)
	}
}
