package config

import "time"

const (
	// History windows
	HistoryLimit     = 60
	HistoryListLimit = 50

	// Ephemeral session cache
	EphemeralTTL         = time.Hour
	EphemeralMaxMessages = 60
	EphemeralMaxEntries  = 1000

	// Streaming
	StreamChunkSize = 20

	// Bot invocation timeout
	BotTimeout = 90 * time.Second

	// Chat requests allowed per caller per minute
	RateLimitPerMinute = 30

	// Conversation defaults
	DefaultTitle  = "New chat"
	DefaultStage  = "select_lang"
	TitleMaxWords = 4

	// Ephemeral bots present a fixed title
	EphemeralTitle = "Help chat"

	// Cookie names
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"

	// Fallback signing secret for local development only.
	DevAuthSecret = "dev-only-secret-change-me-1234567890"

	// User-safe reply when the model call fails.
	ApologyReply = "I apologize for the technical issue. Please try again or contact support."
)
