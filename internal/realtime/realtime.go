// Package realtime publishes chat events to subscribed clients.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventMessageReceived = "chat:message_received"
	EventUnreadUpdated   = "chat:unread_updated"
	EventBotTyping       = "chat:bot_typing"
)

// Broadcaster fans an event out to every subscriber of group.
type Broadcaster interface {
	Publish(ctx context.Context, group, eventType string, payload any) error
}

// Listener delivers published envelopes until ctx is cancelled.
type Listener interface {
	Listen(ctx context.Context, handler func(Envelope)) error
}

// Envelope is the wire form of one event.
type Envelope struct {
	Group   string          `json:"group"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

func RoomGroup(roomID int64) string {
	return fmt.Sprintf("room:%d", roomID)
}

func OrgGroup(orgID int64) string {
	return fmt.Sprintf("org:%d", orgID)
}

type MessagePayload struct {
	RoomID        int64     `json:"room_id"`
	MessageID     int64     `json:"message_id"`
	SenderActorID int64     `json:"sender_actor_id"`
	Kind          string    `json:"kind"`
	Content       string    `json:"content"`
	CreatedAt     time.Time `json:"created_at"`
}

type UnreadPayload struct {
	RoomID        int64         `json:"room_id"`
	MessageID     int64         `json:"message_id"`
	SenderActorID int64         `json:"sender_actor_id"`
	Snippet       string        `json:"snippet"`
	Unread        map[int64]int `json:"unread"`
}

type TypingPayload struct {
	RoomID  int64 `json:"room_id"`
	ActorID int64 `json:"actor_id"`
	Typing  bool  `json:"typing"`
}

func newEnvelope(group, eventType string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{Group: group, Event: eventType, Payload: raw, SentAt: time.Now().UTC()}, nil
}

// Snippet shortens content for unread previews.
func Snippet(content string, max int) string {
	runes := []rune(content)
	if max <= 0 || len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
