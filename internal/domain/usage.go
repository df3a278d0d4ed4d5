package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord tracks model consumption for one assistant reply.
// ConversationID is nil for ephemeral bot traffic.
type UsageRecord struct {
	ID               int64
	ConversationID   *int64
	BotID            string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             decimal.Decimal
	CreatedAt        time.Time
}
