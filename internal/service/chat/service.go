// Package chat manages rooms, their members and the messages posted to them.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"nudgebot/internal/storage"
)

var (
	ErrDuplicate    = errors.New("message already delivered")
	ErrRoomNotFound = errors.New("room not found")
	ErrNotMember    = errors.New("sender is not a room member")
)

// Directory lists the users a group room is preloaded with.
type Directory interface {
	WorkspaceMemberIDs(ctx context.Context, workspaceID int64) ([]int64, error)
	OrganizationUserIDs(ctx context.Context, orgID int64) ([]int64, error)
}

type Service struct {
	db      *sql.DB
	dialect storage.Dialect
	dir     Directory
}

func NewService(db *sql.DB, dialect storage.Dialect, dir Directory) *Service {
	return &Service{db: db, dialect: dialect, dir: dir}
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
