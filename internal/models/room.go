package models

import "time"

type RoomKind string

const (
	RoomDirect    RoomKind = "direct"
	RoomGroup     RoomKind = "group"
	RoomAssistant RoomKind = "assistant"
	RoomSystem    RoomKind = "system"
)

type MemberRole string

const (
	RoleOwner  MemberRole = "owner"
	RoleMember MemberRole = "member"
	RoleBot    MemberRole = "bot"
)

// Room groups a sequence of messages. Key is the canonical uniqueness key
// (see chat.AssistantRoomKey and friends).
type Room struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Kind           RoomKind  `json:"kind"`
	Key            string    `json:"key"`
	WorkspaceID    *int64    `json:"workspace_id,omitempty"`
	Title          string    `json:"title"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

type RoomMember struct {
	RoomID      int64      `json:"room_id"`
	ActorID     int64      `json:"actor_id"`
	Role        MemberRole `json:"role"`
	UnreadCount int        `json:"unread_count"`
	JoinedAt    time.Time  `json:"joined_at"`
}
