package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachdesk/coachd/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TokenRepo struct {
	db *pgxpool.Pool
}

func NewTokenRepo(db *pgxpool.Pool) *TokenRepo {
	return &TokenRepo{db: db}
}

func (r *TokenRepo) InsertRefresh(ctx context.Context, rec domain.RefreshToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.UserID, rec.TokenHash, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepo) RefreshByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var rec domain.RefreshToken
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at
		FROM refresh_tokens
		WHERE token_hash = $1`,
		tokenHash,
	).Scan(&rec.ID, &rec.UserID, &rec.TokenHash, &rec.CreatedAt, &rec.ExpiresAt, &rec.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvalidToken
		}
		return nil, fmt.Errorf("get refresh token: %w", err)
	}
	return &rec, nil
}

// RotateRefresh revokes the presented token and records its successor
// in one transaction. Losing the revocation race means another request
// already rotated this token, which is reported as ErrInvalidToken.
func (r *TokenRepo) RotateRefresh(ctx context.Context, oldID uuid.UUID, revokedAt time.Time, next domain.RefreshToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`,
		oldID, revokedAt)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidToken
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		next.ID, next.UserID, next.TokenHash, next.CreatedAt, next.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert rotated token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

func (r *TokenRepo) RevokeRefresh(ctx context.Context, tokenHash string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE token_hash = $1 AND revoked_at IS NULL`,
		tokenHash, at)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

func (r *TokenRepo) RevokeAllRefreshForUser(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`,
		userID, at)
	if err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// IssueReset marks all prior unused reset tokens for the email used and
// inserts the fresh record, as one transaction.
func (r *TokenRepo) IssueReset(ctx context.Context, rec domain.PasswordResetToken) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset issue: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE password_reset_tokens SET used_at = $2 WHERE email = $1 AND used_at IS NULL`,
		rec.Email, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("invalidate prior reset tokens: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO password_reset_tokens (id, user_id, email, token_hash, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.UserID, rec.Email, rec.TokenHash, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert reset token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset issue: %w", err)
	}
	return nil
}

// ConsumeReset atomically marks a matching, unused, unexpired token as
// used. The row is kept for audit.
func (r *TokenRepo) ConsumeReset(ctx context.Context, tokenHash string, at time.Time) (*domain.PasswordResetToken, error) {
	var rec domain.PasswordResetToken
	err := r.db.QueryRow(ctx, `
		UPDATE password_reset_tokens SET used_at = $2
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING id, user_id, email, token_hash, created_at, expires_at, used_at`,
		tokenHash, at,
	).Scan(&rec.ID, &rec.UserID, &rec.Email, &rec.TokenHash, &rec.CreatedAt, &rec.ExpiresAt, &rec.UsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("consume reset token: %w", err)
	}
	return &rec, nil
}
