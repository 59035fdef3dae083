package scheduler

import (
	"context"
	"sync"
	"time"

	"ubipay/pkg/logger"

	"github.com/google/uuid"
)

// Task is a job run every Interval. A task never overlaps with itself: a
// tick that finds it still running skips it.
type Task struct {
	ID       string
	Name     string
	Interval time.Duration
	NextRun  time.Time
	Status   string // "active", "paused"
	Run      func(ctx context.Context) error

	running bool
}

type Scheduler struct {
	tasks  map[string]*Task
	mu     sync.Mutex
	logger logger.Logger
	tick   time.Duration
	now    func() time.Time
	stop   chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler checks for due tasks every tick.
func NewScheduler(tick time.Duration, log logger.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		tasks:  make(map[string]*Task),
		logger: log,
		tick:   tick,
		now:    time.Now,
		stop:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) Schedule(t *Task) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.NextRun.IsZero() {
		t.NextRun = s.now().Add(t.Interval)
	}
	t.Status = "active"

	s.tasks[t.ID] = t
	s.logger.Info("Scheduled task", map[string]interface{}{
		"id":       t.ID,
		"name":     t.Name,
		"interval": t.Interval.String(),
		"next_run": t.NextRun,
	})
	return t.ID
}

func (s *Scheduler) Pause(id string) bool {
	return s.setStatus(id, "paused")
}

func (s *Scheduler) Resume(id string) bool {
	return s.setStatus(id, "active")
}

func (s *Scheduler) setStatus(id, status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if ok {
		t.Status = status
	}
	return ok
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(s.tick)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.RunDue()
			case <-s.stop:
				return
			}
		}
	}()
	s.logger.Info("Scheduler started", map[string]interface{}{"tick": s.tick.String()})
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped", nil)
}

// RunDue starts every active task whose NextRun has passed.
func (s *Scheduler) RunDue() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, task := range s.tasks {
		if task.Status != "active" || task.running || now.Before(task.NextRun) {
			continue
		}
		task.running = true
		task.NextRun = now.Add(task.Interval)
		s.wg.Add(1)
		go s.execute(task)
	}
}

func (s *Scheduler) execute(t *Task) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		t.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	if err := t.Run(s.ctx); err != nil {
		s.logger.Error("Scheduled task failed", map[string]interface{}{
			"id":    t.ID,
			"name":  t.Name,
			"error": err.Error(),
		})
		return
	}
	s.logger.Debug("Scheduled task finished", map[string]interface{}{
		"id":       t.ID,
		"name":     t.Name,
		"duration": time.Since(start).String(),
	})
}
