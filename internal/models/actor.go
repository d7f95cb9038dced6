package models

// ChatActor is the sender identity behind a message: exactly one of UserID or
// BotID is set. Each user and each bot has one actor per organization.
type ChatActor struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	UserID         *int64 `json:"user_id,omitempty"`
	BotID          *int64 `json:"bot_id,omitempty"`
}

func (a *ChatActor) IsBot() bool {
	return a != nil && a.BotID != nil
}
