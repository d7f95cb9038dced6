package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nudgebot/internal/metrics"
	"nudgebot/internal/models"
	"nudgebot/internal/realtime"
)

const snippetRunes = 120

// Dispatcher persists messages and then announces them. Events are only
// published after the commit, so subscribers never see a rolled back row;
// delivery is at-least-once and consumers dedupe by message id.
type Dispatcher struct {
	chat        *Service
	broadcaster realtime.Broadcaster
}

func NewDispatcher(chat *Service, broadcaster realtime.Broadcaster) *Dispatcher {
	return &Dispatcher{chat: chat, broadcaster: broadcaster}
}

// Send stores msg, touches the room and publishes the message and unread
// events. ErrDuplicate means the dedupe key was already delivered and
// nothing was written.
func (d *Dispatcher) Send(ctx context.Context, msg OutgoingMessage) (*models.Message, error) {
	room, err := d.chat.Room(ctx, msg.RoomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if msg.Kind == "" {
		msg.Kind = models.KindText
	}

	stored, unread, err := d.chat.insertMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrNotMember) {
			return nil, err
		}
		return nil, fmt.Errorf("send message: %w", err)
	}

	if err := d.chat.TouchRoom(ctx, room.ID, stored.CreatedAt); err != nil {
		slog.Warn("touch room failed", "room_id", room.ID, "err", err)
	}

	d.publish(ctx, realtime.RoomGroup(room.ID), realtime.EventMessageReceived, realtime.MessagePayload{
		RoomID:        room.ID,
		MessageID:     stored.ID,
		SenderActorID: stored.SenderActorID,
		Kind:          string(stored.Kind),
		Content:       stored.Content,
		CreatedAt:     stored.CreatedAt,
	})
	d.publish(ctx, realtime.OrgGroup(room.OrganizationID), realtime.EventUnreadUpdated, realtime.UnreadPayload{
		RoomID:        room.ID,
		MessageID:     stored.ID,
		SenderActorID: stored.SenderActorID,
		Snippet:       realtime.Snippet(stored.Content, snippetRunes),
		Unread:        unread,
	})
	return stored, nil
}

// WithTyping shows actorID as typing in the room while fn runs. The typing
// indicator is cleared on every return path, including errors and panics.
func (d *Dispatcher) WithTyping(ctx context.Context, roomID, actorID int64, fn func(ctx context.Context) error) error {
	d.publish(ctx, realtime.RoomGroup(roomID), realtime.EventBotTyping, realtime.TypingPayload{RoomID: roomID, ActorID: actorID, Typing: true})
	defer d.publish(context.WithoutCancel(ctx), realtime.RoomGroup(roomID), realtime.EventBotTyping, realtime.TypingPayload{RoomID: roomID, ActorID: actorID, Typing: false})
	return fn(ctx)
}

// publish is best effort: failures are logged and counted, never returned.
func (d *Dispatcher) publish(ctx context.Context, group, event string, payload any) {
	if d.broadcaster == nil {
		return
	}
	if err := d.broadcaster.Publish(ctx, group, event, payload); err != nil {
		metrics.PublishFailures.WithLabelValues(event).Inc()
		slog.Warn("publish failed", "group", group, "event", event, "err", err)
	}
}
