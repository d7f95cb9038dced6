package models

type BotCategory string

const (
	BotChat   BotCategory = "chat"
	BotSystem BotCategory = "system"
	BotTask   BotCategory = "task"
)

// Bot is a synthetic chat participant.
type Bot struct {
	ID          int64       `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Persona     string      `json:"persona"`
	Constraint  string      `json:"constraint"`
	Category    BotCategory `json:"category"`
	Active      bool        `json:"active"`
}
