package chat

import (
	"context"
	"fmt"
	"time"

	"nudgebot/internal/models"
)

// OutgoingMessage is a message about to be persisted. A non-empty DedupeKey
// makes the write idempotent: a second message with the same key is refused.
type OutgoingMessage struct {
	RoomID        int64
	SenderActorID int64
	Kind          models.MessageKind
	Content       string
	DedupeKey     string
}

// insertMessage stores msg, its delivery record and the unread counters in
// one transaction and returns the post-commit unread count per member.
func (s *Service) insertMessage(ctx context.Context, msg OutgoingMessage) (_ *models.Message, _ map[int64]int, err error) {
	ts := now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var isMember int
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = ? AND actor_id = ?`, msg.RoomID, msg.SenderActorID,
	).Scan(&isMember); err != nil {
		return nil, nil, fmt.Errorf("check sender: %w", err)
	}
	if isMember == 0 {
		err = ErrNotMember
		return nil, nil, err
	}

	if msg.DedupeKey != "" {
		res, execErr := tx.ExecContext(ctx,
			s.dialect.InsertIgnore()+` notification_deliveries (dedupe_key, message_id, created_at) VALUES (?, 0, ?)`,
			msg.DedupeKey, ts,
		)
		if execErr != nil {
			err = fmt.Errorf("record delivery: %w", execErr)
			return nil, nil, err
		}
		n, raErr := res.RowsAffected()
		if raErr != nil {
			err = fmt.Errorf("delivery rows affected: %w", raErr)
			return nil, nil, err
		}
		if n == 0 {
			err = ErrDuplicate
			return nil, nil, err
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (room_id, sender_actor_id, kind, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.RoomID, msg.SenderActorID, msg.Kind, msg.Content, ts,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, nil, fmt.Errorf("message id: %w", err)
	}
	if msg.DedupeKey != "" {
		if _, err = tx.ExecContext(ctx,
			`UPDATE notification_deliveries SET message_id = ? WHERE dedupe_key = ?`, id, msg.DedupeKey,
		); err != nil {
			return nil, nil, fmt.Errorf("link delivery: %w", err)
		}
	}
	if _, err = tx.ExecContext(ctx,
		`UPDATE room_members SET unread_count = unread_count + 1 WHERE room_id = ? AND actor_id <> ?`,
		msg.RoomID, msg.SenderActorID,
	); err != nil {
		return nil, nil, fmt.Errorf("bump unread: %w", err)
	}

	rows, err := tx.QueryContext(ctx, `SELECT actor_id, unread_count FROM room_members WHERE room_id = ?`, msg.RoomID)
	if err != nil {
		return nil, nil, fmt.Errorf("read unread: %w", err)
	}
	unread := make(map[int64]int)
	for rows.Next() {
		var actorID int64
		var count int
		if err = rows.Scan(&actorID, &count); err != nil {
			rows.Close()
			return nil, nil, fmt.Errorf("scan unread: %w", err)
		}
		unread[actorID] = count
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read unread: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit message: %w", err)
	}
	return &models.Message{
		ID:            id,
		RoomID:        msg.RoomID,
		SenderActorID: msg.SenderActorID,
		Kind:          msg.Kind,
		Content:       msg.Content,
		CreatedAt:     ts,
	}, unread, nil
}

// History returns up to limit most recent messages of a room, oldest first.
func (s *Service) History(ctx context.Context, roomID int64, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, room_id, sender_actor_id, kind, content, created_at FROM messages
		WHERE room_id = ? ORDER BY id DESC LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m := new(models.Message)
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderActorID, &m.Kind, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead clears the unread counter of one member.
func (s *Service) MarkRead(ctx context.Context, roomID, actorID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE room_members SET unread_count = 0 WHERE room_id = ? AND actor_id = ?`, roomID, actorID,
	); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// PurgeDeliveries forgets delivery records older than before. Messages stay.
func (s *Service) PurgeDeliveries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notification_deliveries WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge deliveries: %w", err)
	}
	return res.RowsAffected()
}
