package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"nudgebot/internal/models"
)

// now returns the storage timestamp precision shared by sqlite and mysql.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// nextVersion keeps updated_at strictly increasing so every edit gets a
// distinct snapshot token.
func nextVersion(prev time.Time) time.Time {
	t := now()
	if !t.After(prev) {
		t = prev.UTC().Add(time.Microsecond)
	}
	return t
}

func (s *Service) insert(ctx context.Context, what, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", what, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s id: %w", what, err)
	}
	return id, nil
}

func (s *Service) CreateOrganization(ctx context.Context, name string, notificationsEnabled bool, groupScope string) (*models.Organization, error) {
	id, err := s.insert(ctx, "organization",
		`INSERT INTO organizations (name, notifications_enabled, group_scope) VALUES (?, ?, ?)`,
		name, notificationsEnabled, groupScope,
	)
	if err != nil {
		return nil, err
	}
	return &models.Organization{ID: id, Name: name, NotificationsEnabled: notificationsEnabled, GroupScope: groupScope}, nil
}

func (s *Service) SetNotificationsEnabled(ctx context.Context, orgID int64, enabled bool) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE organizations SET notifications_enabled = ? WHERE id = ?`, enabled, orgID); err != nil {
		return fmt.Errorf("update organization: %w", err)
	}
	return nil
}

func (s *Service) CreateUser(ctx context.Context, orgID int64, displayName string) (*models.User, error) {
	id, err := s.insert(ctx, "user",
		`INSERT INTO users (organization_id, display_name) VALUES (?, ?)`, orgID, displayName)
	if err != nil {
		return nil, err
	}
	return &models.User{ID: id, OrganizationID: orgID, DisplayName: displayName}, nil
}

func (s *Service) CreateWorkspace(ctx context.Context, orgID int64, name string, memberIDs ...int64) (int64, error) {
	id, err := s.insert(ctx, "workspace",
		`INSERT INTO workspaces (organization_id, name) VALUES (?, ?)`, orgID, name)
	if err != nil {
		return 0, err
	}
	for _, uid := range memberIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO workspace_members (workspace_id, user_id) VALUES (?, ?)`, id, uid); err != nil {
			return 0, fmt.Errorf("add workspace member: %w", err)
		}
	}
	return id, nil
}

func (s *Service) CreateTask(ctx context.Context, t models.Task) (*models.Task, error) {
	if t.Status == "" {
		t.Status = models.TaskOpen
	}
	t.UpdatedAt = now()
	var due any
	if t.DueAt != nil {
		due = t.DueAt.UTC()
	}
	id, err := s.insert(ctx, "task",
		`INSERT INTO tasks (organization_id, workspace_id, code, title, status, assignee_id, completed_by, due_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OrganizationID, t.WorkspaceID, t.Code, t.Title, t.Status, t.AssigneeID, t.CompletedBy, due, t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.ID = id
	return &t, nil
}

// CompleteTask marks a task done by userID and returns its new version.
func (s *Service) CompleteTask(ctx context.Context, taskID, userID int64) (*models.Task, error) {
	t, err := s.Task(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, sql.ErrNoRows
	}
	version := nextVersion(t.UpdatedAt)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_by = ?, updated_at = ? WHERE id = ?`,
		models.TaskDone, userID, version, taskID,
	); err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}
	t.Status = models.TaskDone
	t.CompletedBy = &userID
	t.UpdatedAt = version
	return t, nil
}

// ReopenTask moves a task back to open.
func (s *Service) ReopenTask(ctx context.Context, taskID int64) error {
	t, err := s.Task(ctx, taskID)
	if err != nil {
		return err
	}
	if t == nil {
		return sql.ErrNoRows
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_by = NULL, updated_at = ? WHERE id = ?`,
		models.TaskOpen, nextVersion(t.UpdatedAt), taskID,
	); err != nil {
		return fmt.Errorf("reopen task: %w", err)
	}
	return nil
}

func (s *Service) CreateItem(ctx context.Context, it models.Item) (*models.Item, error) {
	it.UpdatedAt = now()
	it.NotifiedContent = it.Content
	id, err := s.insert(ctx, "item",
		`INSERT INTO items (organization_id, workspace_id, code, title, content, notified_content, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.OrganizationID, it.WorkspaceID, it.Code, it.Title, it.Content, it.NotifiedContent, it.UpdatedBy, it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	it.ID = id
	return &it, nil
}

// EditItem replaces an item's content and bumps its version.
func (s *Service) EditItem(ctx context.Context, itemID, userID int64, content string) (*models.Item, error) {
	it, err := s.Item(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if it == nil {
		return nil, sql.ErrNoRows
	}
	version := nextVersion(it.UpdatedAt)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE items SET content = ?, updated_by = ?, updated_at = ? WHERE id = ?`,
		content, userID, version, itemID,
	); err != nil {
		return nil, fmt.Errorf("edit item: %w", err)
	}
	it.Content = content
	it.UpdatedBy = &userID
	it.UpdatedAt = version
	return it, nil
}

func (s *Service) CreateComment(ctx context.Context, taskID, authorID int64, kind models.CommentKind, body string) (*models.Comment, error) {
	c := models.Comment{TaskID: taskID, AuthorID: authorID, Kind: kind, Body: body, UpdatedAt: now()}
	id, err := s.insert(ctx, "comment",
		`INSERT INTO comments (task_id, author_id, kind, body, updated_at) VALUES (?, ?, ?, ?, ?)`,
		c.TaskID, c.AuthorID, c.Kind, c.Body, c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.ID = id
	return &c, nil
}

func (s *Service) CreateAttachment(ctx context.Context, a models.Attachment) (*models.Attachment, error) {
	id, err := s.insert(ctx, "attachment",
		`INSERT INTO attachments (organization_id, user_id, file_name, stored_path) VALUES (?, ?, ?, ?)`,
		a.OrganizationID, a.UserID, a.FileName, a.StoredPath,
	)
	if err != nil {
		return nil, err
	}
	a.ID = id
	return &a, nil
}

func (s *Service) CreateBot(ctx context.Context, b models.Bot) (*models.Bot, error) {
	if b.Category == "" {
		b.Category = models.BotChat
	}
	b.Active = true
	id, err := s.insert(ctx, "bot",
		`INSERT INTO bots (name, description, persona, behavior_constraint, category, active) VALUES (?, ?, ?, ?, ?, ?)`,
		b.Name, b.Description, b.Persona, b.Constraint, b.Category, b.Active,
	)
	if err != nil {
		return nil, err
	}
	b.ID = id
	return &b, nil
}

// EnableBot makes a bot available to an organization; repeat calls are no-ops.
func (s *Service) EnableBot(ctx context.Context, orgID, botID int64) error {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_bots WHERE organization_id = ? AND bot_id = ?`, orgID, botID,
	).Scan(&count); err != nil {
		return fmt.Errorf("enable bot: %w", err)
	}
	if count > 0 {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE organization_bots SET active = 1 WHERE organization_id = ? AND bot_id = ?`, orgID, botID); err != nil {
			return fmt.Errorf("enable bot: %w", err)
		}
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO organization_bots (organization_id, bot_id, active) VALUES (?, ?, 1)`, orgID, botID); err != nil {
		return fmt.Errorf("enable bot: %w", err)
	}
	return nil
}

func (s *Service) DisableBot(ctx context.Context, orgID, botID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE organization_bots SET active = 0 WHERE organization_id = ? AND bot_id = ?`, orgID, botID); err != nil {
		return fmt.Errorf("disable bot: %w", err)
	}
	return nil
}
