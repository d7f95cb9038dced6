package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"nudgebot/internal/models"
)

type JobType int

const (
	Run JobType = iota
	Stop
)

type Job struct {
	Type JobType
	Task models.NotificationJob
}

// Handler executes one notification job.
type Handler interface {
	Handle(ctx context.Context, job models.NotificationJob) error
}

type HandlerFunc func(ctx context.Context, job models.NotificationJob) error

func (f HandlerFunc) Handle(ctx context.Context, job models.NotificationJob) error {
	return f(ctx, job)
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	handler    Handler
	timeout    time.Duration
	jobChannel chan Job
}

func newWorker(id int, pool *jobChannelPool) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		handler:    pool.handler,
		timeout:    pool.jobTimeout,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			// back into the idle list, then wait for work
			w.pool.Release(w.jobChannel)
			select {
			case job := <-w.jobChannel:
				if job.Type == Stop {
					debugLog("[worker] stopping", "worker", w.id)
					w.pool.retire(w.jobChannel)
					return
				}
				w.run(job.Task)
			case <-w.pool.quit:
				w.pool.retire(w.jobChannel)
				return
			}
		}
	}()
}

// run never lets a job panic escape into the pool.
func (w *Worker) run(task models.NotificationJob) {
	ctx := context.Background()
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("job panic: %v", r)
				slog.Error("worker recovered panic", "job_id", task.ID, "panic", r, "stack", string(debug.Stack()))
			}
		}()
		return w.handler.Handle(ctx, task)
	}()
	if err != nil {
		slog.Warn("notification job failed", "job_id", task.ID, "kind", task.Kind, "org_id", task.OrganizationID, "entity_id", task.EntityID, "attempt", task.Attempt, "err", err)
		return
	}
	debugLog("[worker] job done", "worker", w.id, "job_id", task.ID)
}
