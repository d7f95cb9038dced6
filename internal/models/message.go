package models

import "time"

// MessageKind distinguishes user chatter from bot-authored notifications.
type MessageKind string

const (
	KindText         MessageKind = "text"
	KindNotification MessageKind = "notification"
	KindSystem       MessageKind = "system"
)

// Message is one append-only utterance in a room.
type Message struct {
	ID            int64       `json:"id"`
	RoomID        int64       `json:"room_id"`
	SenderActorID int64       `json:"sender_actor_id"`
	Kind          MessageKind `json:"kind"`
	Content       string      `json:"content"`
	CreatedAt     time.Time   `json:"created_at"`
}
