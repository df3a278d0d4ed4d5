package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the server-side record of a long-lived credential.
// Only the sha256 hash of the raw token is stored; the raw value is
// returned to the client once and never retrievable again.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    int64
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// PasswordResetToken is a single-use, time-boxed recovery credential.
// Consumption sets UsedAt rather than deleting the row.
type PasswordResetToken struct {
	ID        uuid.UUID
	UserID    int64
	Email     string
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}
