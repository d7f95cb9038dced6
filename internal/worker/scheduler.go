package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nudgebot/internal/models"
)

// Scheduler defers a job until delay has elapsed.
type Scheduler interface {
	Enqueue(ctx context.Context, delay time.Duration, job models.NotificationJob) error
}

// Submitter accepts jobs that are due now.
type Submitter interface {
	Submit(ctx context.Context, job models.NotificationJob) error
}

// MemoryScheduler keeps pending jobs in process timers. Pending jobs are
// lost on restart; use RedisScheduler when that matters.
type MemoryScheduler struct {
	target Submitter

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewMemoryScheduler(target Submitter) *MemoryScheduler {
	return &MemoryScheduler{target: target, timers: make(map[string]*time.Timer)}
}

func (s *MemoryScheduler) Enqueue(ctx context.Context, delay time.Duration, job models.NotificationJob) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if delay <= 0 {
		s.mu.Unlock()
		return s.target.Submit(ctx, job)
	}
	s.timers[job.ID] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, job.ID)
		s.mu.Unlock()
		if err := s.target.Submit(context.Background(), job); err != nil {
			slog.Warn("submit scheduled job failed", "job_id", job.ID, "kind", job.Kind, "err", err)
		}
	})
	s.mu.Unlock()
	debugLog("[scheduler] job deferred", "job_id", job.ID, "delay", delay)
	return nil
}

// Pending reports timers that have not fired yet.
func (s *MemoryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *MemoryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
