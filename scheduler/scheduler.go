package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is one run of a scheduled task. ctx is cancelled when the
// scheduler stops or the task is removed.
type TaskFn func(ctx context.Context) error

// TaskInfo is a snapshot of a registered task.
type TaskInfo struct {
	Name      string        `json:"name"`
	Interval  time.Duration `json:"interval"`
	Runs      int64         `json:"runs"`
	Failures  int64         `json:"failures"`
	LastRun   time.Time     `json:"last_run,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

type task struct {
	mu     sync.Mutex
	info   TaskInfo
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler runs named tasks on fixed intervals.
type Scheduler struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	tasks  map[string]*task
	logger *zap.Logger
}

// New creates a Scheduler whose tasks stop when parent is cancelled.
func New(parent context.Context, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*task),
		logger: logger,
	}
}

// AddTicker runs fn every interval, replacing any task with the same name.
// With runNow the first run happens immediately.
func (s *Scheduler) AddTicker(name string, interval time.Duration, runNow bool, fn TaskFn) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: task %q: interval must be positive", name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return fmt.Errorf("scheduler: stopped")
	}
	if old, ok := s.tasks[name]; ok {
		old.cancel()
		delete(s.tasks, name)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	t := &task{info: TaskInfo{Name: name, Interval: interval}, cancel: cancel, done: make(chan struct{})}
	s.tasks[name] = t

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		if runNow {
			s.run(ctx, t, fn)
		}
		for {
			select {
			case <-ticker.C:
				s.run(ctx, t, fn)
			case <-ctx.Done():
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
	return nil
}

func (s *Scheduler) run(ctx context.Context, t *task, fn TaskFn) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn(ctx)
	}()

	t.mu.Lock()
	t.info.Runs++
	t.info.LastRun = time.Now()
	t.info.LastError = ""
	if err != nil {
		t.info.Failures++
		t.info.LastError = err.Error()
	}
	t.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler task failed", zap.String("task", t.info.Name), zap.Error(err))
	}
}

// Remove stops the named task. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	delete(s.tasks, name)
	s.mu.Unlock()
	if ok {
		t.cancel()
		<-t.done
	}
}

// Stop cancels every task and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()
	for _, t := range tasks {
		<-t.done
	}
}

// ListTasks returns every registered task ordered by name.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		t.mu.Lock()
		out = append(out, t.info)
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
