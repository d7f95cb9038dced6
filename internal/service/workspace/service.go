// Package workspace reads and writes the domain entities notifications are
// derived from: organizations, users, tasks, items, comments, bots.
package workspace

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"nudgebot/internal/models"
)

type Service struct {
	db *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) DB() *sql.DB {
	return s.db
}

// Organization returns nil when the organization does not exist.
func (s *Service) Organization(ctx context.Context, id int64) (*models.Organization, error) {
	var org models.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, notifications_enabled, group_scope FROM organizations WHERE id = ?`, id,
	).Scan(&org.ID, &org.Name, &org.NotificationsEnabled, &org.GroupScope)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get organization: %w", err)
	}
	return &org, nil
}

func (s *Service) User(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, display_name FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.OrganizationID, &u.DisplayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// DisplayName falls back to a generic label for unknown users.
func (s *Service) DisplayName(ctx context.Context, userID int64) string {
	u, err := s.User(ctx, userID)
	if err != nil || u == nil || u.DisplayName == "" {
		return "Someone"
	}
	return u.DisplayName
}

const taskColumns = `id, organization_id, workspace_id, code, title, status, assignee_id, completed_by, due_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var (
		t           models.Task
		assignee    sql.NullInt64
		completedBy sql.NullInt64
		dueAt       sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.OrganizationID, &t.WorkspaceID, &t.Code, &t.Title, &t.Status, &assignee, &completedBy, &dueAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.AssigneeID = nullableID(assignee)
	t.CompletedBy = nullableID(completedBy)
	if dueAt.Valid {
		due := dueAt.Time
		t.DueAt = &due
	}
	return &t, nil
}

func (s *Service) Task(ctx context.Context, id int64) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// OpenTasks lists the user's unfinished tasks, soonest due first.
func (s *Service) OpenTasks(ctx context.Context, orgID, userID int64, limit int) ([]*models.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		WHERE organization_id = ? AND assignee_id = ? AND status <> ?
		ORDER BY CASE WHEN due_at IS NULL THEN 1 ELSE 0 END, due_at ASC, id ASC LIMIT ?`,
		orgID, userID, models.TaskDone, limit,
	)
}

// TasksDueBefore lists unfinished tasks due no later than deadline.
func (s *Service) TasksDueBefore(ctx context.Context, orgID, userID int64, deadline time.Time, limit int) ([]*models.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		WHERE organization_id = ? AND assignee_id = ? AND status <> ? AND due_at IS NOT NULL AND due_at <= ?
		ORDER BY due_at ASC, id ASC LIMIT ?`,
		orgID, userID, models.TaskDone, deadline.UTC(), limit,
	)
}

// CompletedSince lists tasks the user finished after since.
func (s *Service) CompletedSince(ctx context.Context, orgID, userID int64, since time.Time, limit int) ([]*models.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		WHERE organization_id = ? AND completed_by = ? AND status = ? AND updated_at >= ?
		ORDER BY updated_at DESC, id DESC LIMIT ?`,
		orgID, userID, models.TaskDone, since.UTC(), limit,
	)
}

func (s *Service) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Service) Item(ctx context.Context, id int64) (*models.Item, error) {
	var (
		it        models.Item
		updatedBy sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, workspace_id, code, title, content, notified_content, updated_by, updated_at FROM items WHERE id = ?`, id,
	).Scan(&it.ID, &it.OrganizationID, &it.WorkspaceID, &it.Code, &it.Title, &it.Content, &it.NotifiedContent, &updatedBy, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	it.UpdatedBy = nullableID(updatedBy)
	return &it, nil
}

// AdvanceItemBaseline records content as announced. It only applies while
// the item is still at the announced version, so a newer edit keeps the
// older baseline for its own diff.
func (s *Service) AdvanceItemBaseline(ctx context.Context, itemID int64, content string, version time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE items SET notified_content = ? WHERE id = ? AND updated_at = ?`,
		content, itemID, version.UTC(),
	)
	if err != nil {
		return fmt.Errorf("advance item baseline: %w", err)
	}
	return nil
}

func (s *Service) Comment(ctx context.Context, id int64) (*models.Comment, error) {
	var c models.Comment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, task_id, author_id, kind, body, updated_at FROM comments WHERE id = ?`, id,
	).Scan(&c.ID, &c.TaskID, &c.AuthorID, &c.Kind, &c.Body, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return &c, nil
}

func (s *Service) Attachment(ctx context.Context, id int64) (*models.Attachment, error) {
	var a models.Attachment
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, user_id, file_name, stored_path FROM attachments WHERE id = ?`, id,
	).Scan(&a.ID, &a.OrganizationID, &a.UserID, &a.FileName, &a.StoredPath)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return &a, nil
}

// WorkspaceMemberIDs returns the user ids of a workspace.
func (s *Service) WorkspaceMemberIDs(ctx context.Context, workspaceID int64) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT user_id FROM workspace_members WHERE workspace_id = ? ORDER BY user_id`, workspaceID)
}

// OrganizationUserIDs returns every user id of an organization.
func (s *Service) OrganizationUserIDs(ctx context.Context, orgID int64) ([]int64, error) {
	return s.queryIDs(ctx, `SELECT id FROM users WHERE organization_id = ? ORDER BY id`, orgID)
}

func (s *Service) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const botColumns = `b.id, b.name, b.description, b.persona, b.behavior_constraint, b.category, b.active`

func scanBot(row rowScanner) (*models.Bot, error) {
	var b models.Bot
	if err := row.Scan(&b.ID, &b.Name, &b.Description, &b.Persona, &b.Constraint, &b.Category, &b.Active); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *Service) Bot(ctx context.Context, id int64) (*models.Bot, error) {
	b, err := scanBot(s.db.QueryRowContext(ctx, `SELECT `+botColumns+` FROM bots b WHERE b.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get bot: %w", err)
	}
	return b, nil
}

// ActiveBots lists the non-system bots enabled for an organization.
func (s *Service) ActiveBots(ctx context.Context, orgID int64) ([]*models.Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+botColumns+` FROM bots b
		JOIN organization_bots ob ON ob.bot_id = b.id
		WHERE ob.organization_id = ? AND ob.active = 1 AND b.active = 1 AND b.category <> ?
		ORDER BY b.id`,
		orgID, models.BotSystem,
	)
	if err != nil {
		return nil, fmt.Errorf("list organization bots: %w", err)
	}
	defer rows.Close()

	var bots []*models.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot: %w", err)
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

// SystemBot returns the lowest-id active bot of category system, or nil.
func (s *Service) SystemBot(ctx context.Context) (*models.Bot, error) {
	b, err := scanBot(s.db.QueryRowContext(ctx,
		`SELECT `+botColumns+` FROM bots b WHERE b.category = ? AND b.active = 1 ORDER BY b.id LIMIT 1`,
		models.BotSystem,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get system bot: %w", err)
	}
	return b, nil
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
