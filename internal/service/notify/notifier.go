package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"nudgebot/internal/config"
	"nudgebot/internal/models"
	"nudgebot/internal/worker"
)

// Notifier turns domain mutations into deferred notification jobs. Each call
// captures the entity's current version as the job's snapshot token.
type Notifier struct {
	store     VersionReader
	scheduler worker.Scheduler
	delays    map[models.JobKind]time.Duration
	now       func() time.Time
}

func NewNotifier(store VersionReader, scheduler worker.Scheduler, cfg config.NotifyConfig) *Notifier {
	return &Notifier{
		store:     store,
		scheduler: scheduler,
		delays: map[models.JobKind]time.Duration{
			models.JobItemUpdated:    time.Duration(cfg.ItemDelaySecs) * time.Second,
			models.JobTaskCompleted:  time.Duration(cfg.TaskDelaySecs) * time.Second,
			models.JobCommentCreated: time.Duration(cfg.CommentDelaySecs) * time.Second,
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Delay reports the coalescing delay for kind.
func (n *Notifier) Delay(kind models.JobKind) time.Duration {
	return n.delays[kind]
}

func (n *Notifier) TaskCompleted(ctx context.Context, taskID, actorUserID int64) (*models.NotificationJob, error) {
	task, err := n.store.Task(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if task == nil {
		return nil, ErrNotFound
	}
	if actorUserID == 0 && task.CompletedBy != nil {
		actorUserID = *task.CompletedBy
	}
	return n.schedule(ctx, models.JobTaskCompleted, task.OrganizationID, task.ID, actorUserID, task.UpdatedAt)
}

func (n *Notifier) ItemUpdated(ctx context.Context, itemID, actorUserID int64) (*models.NotificationJob, error) {
	item, err := n.store.Item(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("load item: %w", err)
	}
	if item == nil {
		return nil, ErrNotFound
	}
	if actorUserID == 0 && item.UpdatedBy != nil {
		actorUserID = *item.UpdatedBy
	}
	return n.schedule(ctx, models.JobItemUpdated, item.OrganizationID, item.ID, actorUserID, item.UpdatedAt)
}

// CommentCreated schedules urge comments only; other kinds return nil, nil.
func (n *Notifier) CommentCreated(ctx context.Context, commentID int64) (*models.NotificationJob, error) {
	comment, err := n.store.Comment(ctx, commentID)
	if err != nil {
		return nil, fmt.Errorf("load comment: %w", err)
	}
	if comment == nil {
		return nil, ErrNotFound
	}
	if comment.Kind != models.CommentUrge {
		return nil, nil
	}
	task, err := n.store.Task(ctx, comment.TaskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	if task == nil {
		return nil, ErrNotFound
	}
	return n.schedule(ctx, models.JobCommentCreated, task.OrganizationID, comment.ID, comment.AuthorID, comment.UpdatedAt)
}

func (n *Notifier) schedule(ctx context.Context, kind models.JobKind, orgID, entityID, actorID int64, version time.Time) (*models.NotificationJob, error) {
	job := models.NotificationJob{
		ID:             uuid.NewString(),
		Kind:           kind,
		OrganizationID: orgID,
		EntityID:       entityID,
		ActorUserID:    actorID,
		SnapshotToken:  models.VersionToken(version),
		EnqueuedAt:     n.now(),
	}
	delay := n.delays[kind]
	if err := n.scheduler.Enqueue(ctx, delay, job); err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", kind, err)
	}
	slog.Debug("notification job scheduled", "job_id", job.ID, "kind", kind, "org_id", orgID, "entity_id", entityID, "delay", delay)
	return &job, nil
}
