package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nudgebot/internal/models"
)

type recordingSubmitter struct {
	mu   sync.Mutex
	jobs []models.NotificationJob
}

func (r *recordingSubmitter) Submit(_ context.Context, job models.NotificationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingSubmitter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

type delayedJob struct {
	delay time.Duration
	job   models.NotificationJob
}

type recordingScheduler struct {
	mu    sync.Mutex
	calls []delayedJob
}

func (s *recordingScheduler) Enqueue(_ context.Context, delay time.Duration, job models.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, delayedJob{delay: delay, job: job})
	return nil
}

type retryableErr struct{}

func (retryableErr) Error() string   { return "store unavailable" }
func (retryableErr) Retryable() bool { return true }

func TestDispatcherRunsSubmittedJobs(t *testing.T) {
	done := make(chan string, 8)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 3, QueueSize: 8}, HandlerFunc(func(_ context.Context, job models.NotificationJob) error {
		done <- job.ID
		return nil
	}))
	defer d.Close()

	ids := []string{"a", "b", "c", "d"}
	for i, id := range ids {
		if err := d.Submit(context.Background(), models.NotificationJob{ID: id, OrganizationID: int64(i % 2)}); err != nil {
			t.Fatalf("Submit(%s): %v", id, err)
		}
	}
	seen := map[string]bool{}
	for range ids {
		select {
		case id := <-done:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d jobs ran", len(seen), len(ids))
		}
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("job %s did not run", id)
		}
	}
}

func TestDispatcherRoundRobinsOrganizations(t *testing.T) {
	order := make(chan string, 8)
	handler := HandlerFunc(func(_ context.Context, job models.NotificationJob) error {
		order <- job.ID
		return nil
	})
	d := &Dispatcher{
		pool:      newJobChannelPool(1, 1, time.Minute, handler, 0),
		JobQueue:  make(chan models.NotificationJob, 8),
		queues:    make(map[int64]*orgQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		quit:      make(chan struct{}),
	}
	defer d.pool.close()

	d.enqueueJob(models.NotificationJob{ID: "a", OrganizationID: 1})
	d.enqueueJob(models.NotificationJob{ID: "b", OrganizationID: 1})
	d.enqueueJob(models.NotificationJob{ID: "c", OrganizationID: 2})
	d.enqueueJob(models.NotificationJob{ID: "d", OrganizationID: 1})
	d.enqueueJob(models.NotificationJob{ID: "e", OrganizationID: 3})
	if got := d.Pending(); got != 5 {
		t.Fatalf("Pending = %d, want 5", got)
	}

	for d.dispatchOne() {
	}

	want := []string{"a", "c", "e", "b", "d"}
	for i, w := range want {
		select {
		case got := <-order:
			if got != w {
				t.Fatalf("job %d = %s, want %s", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("job %d never ran", i)
		}
	}
}

func TestDispatcherCancelOrganization(t *testing.T) {
	d := &Dispatcher{
		queues:    make(map[int64]*orgQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		JobQueue:  make(chan models.NotificationJob, 1),
	}
	d.enqueueJob(models.NotificationJob{ID: "a", OrganizationID: 1})
	d.enqueueJob(models.NotificationJob{ID: "b", OrganizationID: 2})
	d.CancelOrganization(1)
	if got := d.Pending(); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
	if d.ready.Len() != 1 || d.ready.Front().Value.(int64) != 2 {
		t.Fatalf("ready list should only hold org 2")
	}
}

func TestWorkerRecoversPanics(t *testing.T) {
	var calls sync.WaitGroup
	calls.Add(2)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1}, HandlerFunc(func(_ context.Context, job models.NotificationJob) error {
		defer calls.Done()
		if job.ID == "boom" {
			panic("bad job")
		}
		return nil
	}))
	defer d.Close()

	_ = d.Submit(context.Background(), models.NotificationJob{ID: "boom"})
	_ = d.Submit(context.Background(), models.NotificationJob{ID: "ok"})

	waitDone := make(chan struct{})
	go func() { calls.Wait(); close(waitDone) }()
	select {
	case <-waitDone:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not survive the panic")
	}
}

func TestSubmitAfterClose(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1}, HandlerFunc(func(context.Context, models.NotificationJob) error { return nil }))
	d.Close()
	if err := d.Submit(context.Background(), models.NotificationJob{ID: "x"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Submit after Close = %v, want ErrClosed", err)
	}
}

func TestPoolShutdownExpiredKeepsMinimum(t *testing.T) {
	p := newJobChannelPool(1, 3, time.Hour, HandlerFunc(func(context.Context, models.NotificationJob) error { return nil }), 0)
	defer p.close()
	for i := 0; i < 3; i++ {
		p.spawnWorker()
	}
	waitUntil(t, func() bool { _, idle := p.size(); return idle == 3 })

	p.mu.Lock()
	for _, meta := range p.idle {
		meta.lastUsed = time.Now().Add(-2 * time.Hour)
	}
	p.mu.Unlock()
	p.shutdownExpired()

	waitUntil(t, func() bool { running, _ := p.size(); return running == 1 })
}

func TestMemorySchedulerDefersAndSubmits(t *testing.T) {
	target := &recordingSubmitter{}
	s := NewMemoryScheduler(target)
	defer s.Stop()

	if err := s.Enqueue(context.Background(), 0, models.NotificationJob{ID: "now"}); err != nil {
		t.Fatalf("Enqueue now: %v", err)
	}
	if target.count() != 1 {
		t.Fatalf("zero delay should submit immediately")
	}

	if err := s.Enqueue(context.Background(), 20*time.Millisecond, models.NotificationJob{ID: "later"}); err != nil {
		t.Fatalf("Enqueue later: %v", err)
	}
	if s.Pending() != 1 {
		t.Fatalf("Pending = %d, want 1", s.Pending())
	}
	waitUntil(t, func() bool { return target.count() == 2 })
	if s.Pending() != 0 {
		t.Fatalf("timer should be released after firing")
	}
}

func TestMemorySchedulerStopCancelsPending(t *testing.T) {
	target := &recordingSubmitter{}
	s := NewMemoryScheduler(target)
	if err := s.Enqueue(context.Background(), 50*time.Millisecond, models.NotificationJob{ID: "x"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	s.Stop()
	time.Sleep(100 * time.Millisecond)
	if target.count() != 0 {
		t.Fatalf("stopped scheduler still submitted")
	}
	if err := s.Enqueue(context.Background(), 0, models.NotificationJob{ID: "y"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Enqueue after Stop = %v, want ErrClosed", err)
	}
}

func TestRetrierReschedulesRetryableErrors(t *testing.T) {
	sched := &recordingScheduler{}
	r := &Retrier{
		Next: HandlerFunc(func(context.Context, models.NotificationJob) error {
			return retryableErr{}
		}),
		Scheduler: sched,
		Policy:    RetryPolicy{MaxAttempts: 3, Base: time.Second},
	}

	job := models.NotificationJob{ID: "j", SnapshotToken: "42", Attempt: 1}
	if err := r.Handle(context.Background(), job); err != nil {
		t.Fatalf("Handle = %v, want nil after reschedule", err)
	}
	if len(sched.calls) != 1 {
		t.Fatalf("expected one reschedule, got %d", len(sched.calls))
	}
	got := sched.calls[0]
	if got.job.Attempt != 2 || got.job.SnapshotToken != "42" {
		t.Fatalf("rescheduled job = %+v", got.job)
	}
	if got.delay != 2*time.Second {
		t.Fatalf("delay = %s, want 2s", got.delay)
	}

	job.Attempt = 2
	if err := r.Handle(context.Background(), job); err == nil {
		t.Fatal("exhausted attempts should surface the error")
	}
	if len(sched.calls) != 1 {
		t.Fatalf("exhausted job must not be rescheduled")
	}
}

func TestRetrierPassesThroughPermanentErrors(t *testing.T) {
	sched := &recordingScheduler{}
	permanent := errors.New("bad payload")
	r := &Retrier{
		Next:      HandlerFunc(func(context.Context, models.NotificationJob) error { return permanent }),
		Scheduler: sched,
		Policy:    RetryPolicy{MaxAttempts: 5, Base: time.Second},
	}
	if err := r.Handle(context.Background(), models.NotificationJob{ID: "j"}); !errors.Is(err, permanent) {
		t.Fatalf("Handle = %v, want permanent error", err)
	}
	if len(sched.calls) != 0 {
		t.Fatal("permanent errors must not be rescheduled")
	}
}

func TestBackoffCaps(t *testing.T) {
	p := RetryPolicy{Base: time.Second, Max: 10 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{40, 10 * time.Second},
	}
	for _, c := range cases {
		if got := p.Backoff(c.attempt); got != c.want {
			t.Errorf("Backoff(%d) = %s, want %s", c.attempt, got, c.want)
		}
	}
	if !IsRetryable(errors.Join(errors.New("wrap"), retryableErr{})) {
		t.Error("joined retryable error should be retryable")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
