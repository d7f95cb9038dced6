package models

import (
	"strconv"
	"time"
)

// Organization is the tenant boundary.
type Organization struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	GroupScope           string `json:"group_scope"`
}

type User struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	DisplayName    string `json:"display_name"`
}

type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
)

type Task struct {
	ID             int64      `json:"id"`
	OrganizationID int64      `json:"organization_id"`
	WorkspaceID    int64      `json:"workspace_id"`
	Code           string     `json:"code"`
	Title          string     `json:"title"`
	Status         TaskStatus `json:"status"`
	AssigneeID     *int64     `json:"assignee_id,omitempty"`
	CompletedBy    *int64     `json:"completed_by,omitempty"`
	DueAt          *time.Time `json:"due_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Item is a rich-text document; NotifiedContent is the baseline last announced.
type Item struct {
	ID              int64     `json:"id"`
	OrganizationID  int64     `json:"organization_id"`
	WorkspaceID     int64     `json:"workspace_id"`
	Code            string    `json:"code"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	NotifiedContent string    `json:"notified_content"`
	UpdatedBy       *int64    `json:"updated_by,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type CommentKind string

const (
	CommentNote CommentKind = "Note"
	CommentUrge CommentKind = "Urge"
)

type Comment struct {
	ID        int64       `json:"id"`
	TaskID    int64       `json:"task_id"`
	AuthorID  int64       `json:"author_id"`
	Kind      CommentKind `json:"kind"`
	Body      string      `json:"body"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Attachment represents a user-uploaded file.
type Attachment struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	UserID         int64  `json:"user_id"`
	FileName       string `json:"file_name"`
	StoredPath     string `json:"stored_path"`
}

// VersionToken encodes an update timestamp as a snapshot token.
func VersionToken(t time.Time) string {
	return strconv.FormatInt(t.UTC().UnixMicro(), 10)
}
