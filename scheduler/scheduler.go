// Package scheduler decides which enabled scopes get scanned and when.
// It runs a single loop that ticks fast while work is waiting and slow
// while idle, and it guarantees at most one in-flight batch per scope.
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"penpreserve/models"
)

// Mode is the scheduler's polling state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeActive
)

// retryDelay is the requeue delay after a failed batch, deliberately
// shorter than the regular poll interval.
const retryDelay = 30 * time.Second

// BatchRunner executes one scan batch for a due scope.
type BatchRunner interface {
	RunBatch(ctx context.Context, task models.ScanTask) error
}

// Scheduler owns the transient task set. Tasks are rebuilt from the
// config table at boot, never persisted.
type Scheduler struct {
	runner       BatchRunner
	activeTick   time.Duration
	idleTick     time.Duration
	pollInterval time.Duration

	mu       sync.Mutex
	tasks    map[string]*models.ScanTask
	inflight map[string]bool

	wake chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time
}

// New builds a scheduler. activeTick drives the loop while scopes have
// outstanding work, idleTick while the work set is quiet, and
// pollInterval spaces successive batches of one scope.
func New(runner BatchRunner, activeTick, idleTick, pollInterval time.Duration) *Scheduler {
	return &Scheduler{
		runner:       runner,
		activeTick:   activeTick,
		idleTick:     idleTick,
		pollInterval: pollInterval,
		tasks:        make(map[string]*models.ScanTask),
		inflight:     make(map[string]bool),
		wake:         make(chan struct{}, 1),
		now:          time.Now,
	}
}

// Enqueue adds or refreshes a task and wakes the loop, so a scope
// granted via webhook is picked up without waiting out the current
// tick. An earlier pending run time wins over a later one.
func (s *Scheduler) Enqueue(task models.ScanTask) {
	key := task.Config.Scope.Key()
	s.mu.Lock()
	if existing, ok := s.tasks[key]; ok && existing.NextRunAt.Before(task.NextRunAt) {
		s.mu.Unlock()
		return
	}
	s.tasks[key] = &task
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Remove deregisters a scope. An in-flight batch is not interrupted; it
// rechecks the config state itself before writing anything.
func (s *Scheduler) Remove(scope models.BackupScope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, scope.Key())
}

// Mode reports Active when any task is due or a batch is running.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.inflight) > 0 {
		return ModeActive
	}
	now := s.now()
	for _, t := range s.tasks {
		if !t.NextRunAt.After(now) {
			return ModeActive
		}
	}
	return ModeIdle
}

// TaskCount reports the size of the work set.
func (s *Scheduler) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Run drives the dispatch loop until ctx is cancelled, then waits for
// in-flight batches to finish their current message and return.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("Scheduler started (active tick %v, idle tick %v)", s.activeTick, s.idleTick)
	for {
		s.dispatchDue(ctx)

		tick := s.idleTick
		if s.Mode() == ModeActive {
			tick = s.activeTick
		}

		timer := time.NewTimer(tick)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.wg.Wait()
			log.Println("Scheduler stopped.")
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// dispatchDue starts one batch per due scope. Scopes still waiting on
// their first full historical scan go first.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	now := s.now()
	s.mu.Lock()
	var due []*models.ScanTask
	for key, t := range s.tasks {
		if s.inflight[key] || t.NextRunAt.After(now) {
			continue
		}
		due = append(due, t)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Historical != due[j].Historical {
			return due[i].Historical
		}
		return due[i].NextRunAt.Before(due[j].NextRunAt)
	})
	for _, t := range due {
		s.inflight[t.Config.Scope.Key()] = true
	}
	s.mu.Unlock()

	for _, t := range due {
		task := *t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runBatch(ctx, task)
		}()
	}
}

func (s *Scheduler) runBatch(ctx context.Context, task models.ScanTask) {
	key := task.Config.Scope.Key()
	err := s.runner.RunBatch(ctx, task)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, key)

	t, ok := s.tasks[key]
	if !ok {
		// Deregistered while the batch ran.
		return
	}
	if err != nil {
		log.Printf("Scan batch for %s failed: %v", task.Config.Scope, err)
		t.NextRunAt = s.now().Add(retryDelay)
		return
	}
	// The first successful batch finishes the historical phase; from
	// here the scope is live-monitored at the poll interval.
	t.Historical = false
	t.ResumeAfter = time.Time{}
	t.NextRunAt = s.now().Add(s.pollInterval)
}
