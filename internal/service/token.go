package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/coachdesk/coachd/internal/config"
	"github.com/coachdesk/coachd/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenStore is the durable side of refresh and reset tokens.
type TokenStore interface {
	InsertRefresh(ctx context.Context, rec domain.RefreshToken) error
	RefreshByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)
	RotateRefresh(ctx context.Context, oldID uuid.UUID, revokedAt time.Time, next domain.RefreshToken) error
	RevokeRefresh(ctx context.Context, tokenHash string, at time.Time) error
	RevokeAllRefreshForUser(ctx context.Context, userID int64, at time.Time) error
	IssueReset(ctx context.Context, rec domain.PasswordResetToken) error
	ConsumeReset(ctx context.Context, tokenHash string, at time.Time) (*domain.PasswordResetToken, error)
}

// TokenService owns the three credential kinds: stateless signed access
// tokens, rotating server-tracked refresh tokens, and single-use reset
// tokens. Refresh and reset tokens are opaque random secrets; only
// their SHA-256 hash is stored.
type TokenService struct {
	store      TokenStore
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	resetTTL   time.Duration
	now        func() time.Time
}

func NewTokenService(store TokenStore, secret string, accessTTL, refreshTTL, resetTTL time.Duration) *TokenService {
	if secret == "" {
		slog.Warn("auth secret not configured, using insecure development fallback")
		secret = config.DevAuthSecret
	}
	return &TokenService{
		store:      store,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		resetTTL:   resetTTL,
		now:        time.Now,
	}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

func (s *TokenService) IssueAccess(email string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

// ValidateAccess returns the subject email of a valid access token.
// Any parse, signature, or expiry failure is domain.ErrInvalidToken.
func (s *TokenService) ValidateAccess(token string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", domain.ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", domain.ErrInvalidToken
	}
	return claims.Subject, nil
}

func newOpaqueToken() (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token secret: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(buf)
	return token, hashToken(token), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (s *TokenService) IssueRefresh(ctx context.Context, userID int64) (string, error) {
	token, hash, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	rec := domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    userID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.store.InsertRefresh(ctx, rec); err != nil {
		return "", err
	}
	return token, nil
}

// RotateRefresh exchanges a live refresh token for a fresh one. The
// presented token becomes unusable regardless of what the caller does
// with the replacement.
func (s *TokenService) RotateRefresh(ctx context.Context, presented string) (string, int64, error) {
	rec, err := s.store.RefreshByHash(ctx, hashToken(presented))
	if err != nil {
		return "", 0, err
	}
	now := s.now()
	if rec.RevokedAt != nil || now.After(rec.ExpiresAt) {
		return "", 0, domain.ErrInvalidToken
	}

	token, hash, err := newOpaqueToken()
	if err != nil {
		return "", 0, err
	}
	next := domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    rec.UserID,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.store.RotateRefresh(ctx, rec.ID, now, next); err != nil {
		return "", 0, err
	}
	return token, rec.UserID, nil
}

func (s *TokenService) RevokeRefresh(ctx context.Context, presented string) error {
	return s.store.RevokeRefresh(ctx, hashToken(presented), s.now())
}

func (s *TokenService) RevokeAllRefresh(ctx context.Context, userID int64) error {
	return s.store.RevokeAllRefreshForUser(ctx, userID, s.now())
}

// IssueReset mints a reset token for the user, invalidating any prior
// unused ones for the same email.
func (s *TokenService) IssueReset(ctx context.Context, userID int64, email string) (string, error) {
	token, hash, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	rec := domain.PasswordResetToken{
		ID:        uuid.New(),
		UserID:    userID,
		Email:     email,
		TokenHash: hash,
		CreatedAt: now,
		ExpiresAt: now.Add(s.resetTTL),
	}
	if err := s.store.IssueReset(ctx, rec); err != nil {
		return "", err
	}
	return token, nil
}

// ConsumeReset validates and burns a reset token in one step.
func (s *TokenService) ConsumeReset(ctx context.Context, presented string) (*domain.PasswordResetToken, error) {
	return s.store.ConsumeReset(ctx, hashToken(presented), s.now())
}
