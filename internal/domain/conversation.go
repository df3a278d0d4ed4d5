package domain

import (
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation is a durable chat thread between one user and one bot.
type Conversation struct {
	ID        int64
	UserID    *int64
	Email     string
	BotID     string
	Title     string
	Stage     string
	UILang    *string
	IsDeleted bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             int64
	ConversationID int64
	Role           string
	Content        string
	IsEdited       bool
	EditedAt       *time.Time
	CreatedAt      time.Time
}
