package notify

import (
	"context"
	"fmt"

	"nudgebot/internal/models"
)

// VersionReader loads the entities a job can point at.
type VersionReader interface {
	Task(ctx context.Context, id int64) (*models.Task, error)
	Item(ctx context.Context, id int64) (*models.Item, error)
	Comment(ctx context.Context, id int64) (*models.Comment, error)
}

// Snapshot holds the entity a job was validated against. Exactly one field
// is set, matching the job kind.
type Snapshot struct {
	Task    *models.Task
	Item    *models.Item
	Comment *models.Comment
}

// Guard re-reads a job's entity and compares its live version marker with
// the job's snapshot token.
type Guard struct {
	store VersionReader
}

func NewGuard(store VersionReader) *Guard {
	return &Guard{store: store}
}

// Check returns ErrNotFound when the entity is gone and ErrStale when it
// changed after the job was scheduled. It never writes.
func (g *Guard) Check(ctx context.Context, job models.NotificationJob) (*Snapshot, error) {
	var (
		snap  Snapshot
		token string
		err   error
	)
	switch job.Kind {
	case models.JobTaskCompleted:
		snap.Task, err = g.store.Task(ctx, job.EntityID)
		if snap.Task != nil {
			token = models.VersionToken(snap.Task.UpdatedAt)
		}
	case models.JobItemUpdated:
		snap.Item, err = g.store.Item(ctx, job.EntityID)
		if snap.Item != nil {
			token = models.VersionToken(snap.Item.UpdatedAt)
		}
	case models.JobCommentCreated:
		snap.Comment, err = g.store.Comment(ctx, job.EntityID)
		if snap.Comment != nil {
			token = models.VersionToken(snap.Comment.UpdatedAt)
		}
	default:
		return nil, fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load " + string(job.Kind) + " entity", EntityID: job.EntityID, OrgID: job.OrganizationID, Err: err}
	}
	if token == "" {
		return nil, ErrNotFound
	}
	if token != job.SnapshotToken {
		return nil, ErrStale
	}
	return &snap, nil
}
