package models

import "time"

type JobKind string

const (
	JobTaskCompleted  JobKind = "task_completed"
	JobItemUpdated    JobKind = "item_updated"
	JobCommentCreated JobKind = "comment_created"
)

// NotificationJob is the serialisable payload of one deferred notification.
// SnapshotToken is captured at scheduling time and carried by value.
type NotificationJob struct {
	ID             string    `json:"id"`
	Kind           JobKind   `json:"kind"`
	OrganizationID int64     `json:"organization_id"`
	EntityID       int64     `json:"entity_id"`
	ActorUserID    int64     `json:"actor_user_id"`
	SnapshotToken  string    `json:"snapshot_token"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	Attempt        int       `json:"attempt"`
}
