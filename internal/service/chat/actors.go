package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"nudgebot/internal/models"
)

// EnsureUserActor returns the user's actor in orgID, creating it on first use.
func (s *Service) EnsureUserActor(ctx context.Context, orgID, userID int64) (*models.ChatActor, error) {
	if _, err := s.db.ExecContext(ctx,
		s.dialect.InsertIgnore()+` chat_actors (organization_id, user_id) VALUES (?, ?)`, orgID, userID,
	); err != nil {
		return nil, fmt.Errorf("ensure user actor: %w", err)
	}
	return s.actorBy(ctx, `organization_id = ? AND user_id = ?`, orgID, userID)
}

// EnsureBotActor returns the bot's actor in orgID, creating it on first use.
func (s *Service) EnsureBotActor(ctx context.Context, orgID, botID int64) (*models.ChatActor, error) {
	if _, err := s.db.ExecContext(ctx,
		s.dialect.InsertIgnore()+` chat_actors (organization_id, bot_id) VALUES (?, ?)`, orgID, botID,
	); err != nil {
		return nil, fmt.Errorf("ensure bot actor: %w", err)
	}
	return s.actorBy(ctx, `organization_id = ? AND bot_id = ?`, orgID, botID)
}

// Actor returns nil when no actor has the id.
func (s *Service) Actor(ctx context.Context, id int64) (*models.ChatActor, error) {
	a, err := s.actorBy(ctx, `id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (s *Service) actorBy(ctx context.Context, where string, args ...any) (*models.ChatActor, error) {
	var (
		a      models.ChatActor
		userID sql.NullInt64
		botID  sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, user_id, bot_id FROM chat_actors WHERE `+where, args...,
	).Scan(&a.ID, &a.OrganizationID, &userID, &botID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get actor: %w", err)
	}
	if userID.Valid {
		a.UserID = &userID.Int64
	}
	if botID.Valid {
		a.BotID = &botID.Int64
	}
	return &a, nil
}
