package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nudgebot/internal/models"
)

const (
	ScopeWorkspace    = "workspace"
	ScopeOrganization = "organization"
)

// AssistantRoomKey is the canonical key of a user's assistant room. It is
// keyed by the human actor only, so every call site resolves the same row.
func AssistantRoomKey(orgID, userActorID int64) string {
	return fmt.Sprintf("assistant:%d:%d", orgID, userActorID)
}

// DirectRoomKey keys a direct room by the unordered actor pair.
func DirectRoomKey(orgID, actorA, actorB int64) string {
	if actorA > actorB {
		actorA, actorB = actorB, actorA
	}
	return fmt.Sprintf("direct:%d:%d:%d", orgID, actorA, actorB)
}

func GroupRoomKey(orgID, workspaceID int64, scope string) string {
	if scope == ScopeOrganization {
		return fmt.Sprintf("group:org:%d", orgID)
	}
	return fmt.Sprintf("group:ws:%d", workspaceID)
}

type member struct {
	actorID int64
	role    models.MemberRole
}

// GetOrCreate returns the assistant room between targetUserID and a bot,
// creating it with exactly those two members. The bot is (re)joined
// idempotently when the room already exists.
func (s *Service) GetOrCreate(ctx context.Context, orgID, targetUserID, botActorID int64) (*models.Room, error) {
	userActor, err := s.EnsureUserActor(ctx, orgID, targetUserID)
	if err != nil {
		return nil, err
	}
	room, err := s.ensureRoom(ctx, models.Room{
		OrganizationID: orgID,
		Kind:           models.RoomAssistant,
		Key:            AssistantRoomKey(orgID, userActor.ID),
		Title:          "Assistant",
	}, []member{
		{actorID: userActor.ID, role: models.RoleOwner},
		{actorID: botActorID, role: models.RoleBot},
	})
	if err != nil {
		return nil, fmt.Errorf("get or create assistant room: %w", err)
	}
	return room, nil
}

// GetOrCreateDirect returns the direct room of two actors.
func (s *Service) GetOrCreateDirect(ctx context.Context, orgID, actorA, actorB int64) (*models.Room, error) {
	if actorA == actorB {
		return nil, errors.New("direct room needs two distinct actors")
	}
	room, err := s.ensureRoom(ctx, models.Room{
		OrganizationID: orgID,
		Kind:           models.RoomDirect,
		Key:            DirectRoomKey(orgID, actorA, actorB),
	}, []member{
		{actorID: actorA, role: models.RoleMember},
		{actorID: actorB, role: models.RoleMember},
	})
	if err != nil {
		return nil, fmt.Errorf("get or create direct room: %w", err)
	}
	return room, nil
}

// GetOrCreateGroup returns the group room for a workspace, or for the whole
// organization when scope is "organization". Current members are joined on
// every call; bots join lazily through EnsureMember.
func (s *Service) GetOrCreateGroup(ctx context.Context, orgID, workspaceID int64, scope string) (*models.Room, error) {
	var (
		userIDs []int64
		err     error
		wsID    *int64
		title   string
	)
	if scope == ScopeOrganization {
		userIDs, err = s.dir.OrganizationUserIDs(ctx, orgID)
		title = "Everyone"
	} else {
		userIDs, err = s.dir.WorkspaceMemberIDs(ctx, workspaceID)
		wsID = &workspaceID
		title = "Workspace"
	}
	if err != nil {
		return nil, fmt.Errorf("list group members: %w", err)
	}
	if len(userIDs) == 0 {
		return nil, errors.New("group room has no members")
	}
	members := make([]member, 0, len(userIDs))
	for _, uid := range userIDs {
		a, err := s.EnsureUserActor(ctx, orgID, uid)
		if err != nil {
			return nil, err
		}
		members = append(members, member{actorID: a.ID, role: models.RoleMember})
	}
	room, err := s.ensureRoom(ctx, models.Room{
		OrganizationID: orgID,
		Kind:           models.RoomGroup,
		Key:            GroupRoomKey(orgID, workspaceID, scope),
		WorkspaceID:    wsID,
		Title:          title,
	}, members)
	if err != nil {
		return nil, fmt.Errorf("get or create group room: %w", err)
	}
	return room, nil
}

// ensureRoom inserts the room and its members in one transaction. The room
// key's uniqueness makes concurrent first calls converge on one row.
func (s *Service) ensureRoom(ctx context.Context, room models.Room, members []member) (_ *models.Room, err error) {
	ts := now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		s.dialect.InsertIgnore()+` rooms (organization_id, kind, room_key, workspace_id, title, last_activity_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		room.OrganizationID, room.Kind, room.Key, room.WorkspaceID, room.Title, ts, ts,
	); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	got, err := scanRoom(tx.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_key = ?`, room.Key))
	if err != nil {
		return nil, fmt.Errorf("load room: %w", err)
	}
	for _, m := range members {
		if _, err = tx.ExecContext(ctx,
			s.dialect.InsertIgnore()+` room_members (room_id, actor_id, role, unread_count, joined_at) VALUES (?, ?, ?, 0, ?)`,
			got.ID, m.actorID, m.role, ts,
		); err != nil {
			return nil, fmt.Errorf("insert room member: %w", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit room: %w", err)
	}
	return got, nil
}

// EnsureMember joins actorID to the room unless it already belongs to it.
// The storage uniqueness constraint settles concurrent joins.
func (s *Service) EnsureMember(ctx context.Context, roomID, actorID int64, role models.MemberRole) (bool, error) {
	ok, err := s.IsMember(ctx, roomID, actorID)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		s.dialect.InsertIgnore()+` room_members (room_id, actor_id, role, unread_count, joined_at) VALUES (?, ?, ?, 0, ?)`,
		roomID, actorID, role, now(),
	)
	if err != nil {
		return false, fmt.Errorf("ensure member: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("member rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Service) IsMember(ctx context.Context, roomID, actorID int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = ? AND actor_id = ?`, roomID, actorID,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("check member: %w", err)
	}
	return count > 0, nil
}

// TouchRoom records activity. Last write wins; the field is advisory.
func (s *Service) TouchRoom(ctx context.Context, roomID int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE rooms SET last_activity_at = ? WHERE id = ?`, at.UTC(), roomID,
	); err != nil {
		return fmt.Errorf("touch room: %w", err)
	}
	return nil
}

// Room returns nil when the room does not exist.
func (s *Service) Room(ctx context.Context, id int64) (*models.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return r, nil
}

func (s *Service) RoomByKey(ctx context.Context, key string) (*models.Room, error) {
	r, err := scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE room_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}
	return r, nil
}

func (s *Service) Members(ctx context.Context, roomID int64) ([]models.RoomMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT room_id, actor_id, role, unread_count, joined_at FROM room_members WHERE room_id = ? ORDER BY actor_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	var members []models.RoomMember
	for rows.Next() {
		var m models.RoomMember
		if err := rows.Scan(&m.RoomID, &m.ActorID, &m.Role, &m.UnreadCount, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

const roomColumns = `id, organization_id, kind, room_key, workspace_id, title, last_activity_at, created_at`

func scanRoom(row interface{ Scan(...any) error }) (*models.Room, error) {
	var (
		r    models.Room
		wsID sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.Kind, &r.Key, &wsID, &r.Title, &r.LastActivityAt, &r.CreatedAt); err != nil {
		return nil, err
	}
	if wsID.Valid {
		r.WorkspaceID = &wsID.Int64
	}
	return &r, nil
}
