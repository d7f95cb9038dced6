package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nudgebot/internal/models"
	"nudgebot/internal/redis"
)

const (
	redisDelayedKey   = "nudgebot:jobs:delayed"
	redisPollBatch    = 100
	redisRequeueDelay = time.Second
)

// RedisScheduler keeps deferred jobs in a sorted set scored by due time.
// Any node may poll; ZREM decides which one runs a member.
type RedisScheduler struct {
	client   *redis.Client
	target   Submitter
	key      string
	interval time.Duration
}

func NewRedisScheduler(client *redis.Client, target Submitter, interval time.Duration) *RedisScheduler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &RedisScheduler{client: client, target: target, key: redisDelayedKey, interval: interval}
}

func (s *RedisScheduler) Enqueue(ctx context.Context, delay time.Duration, job models.NotificationJob) error {
	if s == nil || s.client == nil {
		return errors.New("redis scheduler not initialized")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	due := time.Now().Add(delay)
	if err := s.client.ScheduleAt(ctx, s.key, due, string(payload)); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	debugLog("[scheduler] job stored", "job_id", job.ID, "due", due)
	return nil
}

// Run polls for due jobs until ctx is cancelled.
func (s *RedisScheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.poll(ctx, time.Now()); err != nil && ctx.Err() == nil {
				slog.Warn("poll delayed jobs failed", "err", err)
			}
		}
	}
}

// poll submits every job due at now that this node claims.
func (s *RedisScheduler) poll(ctx context.Context, now time.Time) (int, error) {
	members, err := s.client.Due(ctx, s.key, now, redisPollBatch)
	if err != nil {
		return 0, err
	}
	submitted := 0
	for _, member := range members {
		claimed, err := s.client.Claim(ctx, s.key, member)
		if err != nil {
			return submitted, err
		}
		if !claimed {
			continue
		}
		var job models.NotificationJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			slog.Error("drop undecodable job", "err", err)
			continue
		}
		if err := s.target.Submit(ctx, job); err != nil {
			slog.Warn("submit due job failed, requeue", "job_id", job.ID, "err", err)
			if rerr := s.client.ScheduleAt(ctx, s.key, now.Add(redisRequeueDelay), member); rerr != nil {
				return submitted, rerr
			}
			continue
		}
		submitted++
	}
	return submitted, nil
}
