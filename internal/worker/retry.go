package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nudgebot/internal/metrics"
	"nudgebot/internal/models"
)

// RetryPolicy bounds re-delivery of failed jobs.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// Backoff returns the delay before the given (zero based) retry.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	if attempt > 16 {
		attempt = 16
	}
	d := base << uint(attempt)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}

// IsRetryable reports whether err, or anything it wraps, asks to be retried.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

// Retrier re-enqueues jobs whose handler returned a retryable error. The job
// is re-sent unchanged apart from Attempt, so handlers see the same snapshot
// token on every delivery.
type Retrier struct {
	Next      Handler
	Scheduler Scheduler
	Policy    RetryPolicy
}

func (r *Retrier) Handle(ctx context.Context, job models.NotificationJob) error {
	err := r.Next.Handle(ctx, job)
	if err == nil || !IsRetryable(err) {
		return err
	}
	if r.Scheduler == nil {
		return err
	}
	if r.Policy.MaxAttempts > 0 && job.Attempt+1 >= r.Policy.MaxAttempts {
		return fmt.Errorf("give up after %d attempts: %w", job.Attempt+1, err)
	}
	delay := r.Policy.Backoff(job.Attempt)
	job.Attempt++
	if serr := r.Scheduler.Enqueue(ctx, delay, job); serr != nil {
		return errors.Join(err, fmt.Errorf("reschedule job: %w", serr))
	}
	metrics.JobsRetried.Inc()
	slog.Info("notification job rescheduled", "job_id", job.ID, "kind", job.Kind, "attempt", job.Attempt, "delay", delay, "err", err)
	return nil
}
