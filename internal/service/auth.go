package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coachdesk/coachd/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the durable side of user accounts.
type UserStore interface {
	Create(ctx context.Context, fullName, email, passwordHash string) (*domain.User, error)
	ByEmail(ctx context.Context, email string) (*domain.User, error)
	ByID(ctx context.Context, id int64) (*domain.User, error)
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
}

// Notifier delivers account emails (password reset links).
type Notifier interface {
	Send(ctx context.Context, to, subject, body, replyTo string) error
}

// TokenPair is one issued credential set.
type TokenPair struct {
	Access  string
	Refresh string
}

// AuthService owns signup, login, refresh rotation, and the password
// reset flow.
type AuthService struct {
	users        UserStore
	tokens       *TokenService
	notifier     Notifier
	resetURLBase string
	now          func() time.Time
}

func NewAuthService(users UserStore, tokens *TokenService, notifier Notifier, resetURLBase string) *AuthService {
	return &AuthService{
		users:        users,
		tokens:       tokens,
		notifier:     notifier,
		resetURLBase: resetURLBase,
		now:          time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validCredentials(email, password string) bool {
	return strings.Count(email, "@") == 1 && !strings.ContainsAny(email, " \t") &&
		len(email) >= 3 && len(password) >= 8
}

func (s *AuthService) issuePair(ctx context.Context, user *domain.User) (TokenPair, error) {
	access, err := s.tokens.IssueAccess(user.Email)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefresh(ctx, user.ID)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{Access: access, Refresh: refresh}, nil
}

func (s *AuthService) Signup(ctx context.Context, fullName, email, password string) (*domain.User, TokenPair, error) {
	email = normalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	if fullName == "" || !validCredentials(email, password) {
		return nil, TokenPair{}, domain.ErrInvalidInput
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.users.Create(ctx, fullName, email, string(hash))
	if err != nil {
		return nil, TokenPair{}, err
	}
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, TokenPair, error) {
	user, err := s.users.ByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, TokenPair{}, domain.ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, TokenPair{}, domain.ErrInvalidCredentials
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, s.now()); err != nil {
		slog.Error("update last login failed", "user_id", user.ID, "error", err)
	}
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

// Refresh rotates the presented refresh token and mints a matching
// access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.User, TokenPair, error) {
	next, userID, err := s.tokens.RotateRefresh(ctx, refreshToken)
	if err != nil {
		return nil, TokenPair{}, err
	}
	user, err := s.users.ByID(ctx, userID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	access, err := s.tokens.IssueAccess(user.Email)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, TokenPair{Access: access, Refresh: next}, nil
}

func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.tokens.RevokeRefresh(ctx, refreshToken)
}

// ForgotPassword issues a reset token and mails the reset link. An
// unknown email is treated as success so the endpoint cannot be used
// to probe for accounts.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.users.ByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil
		}
		return err
	}

	token, err := s.tokens.IssueReset(ctx, user.ID, user.Email)
	if err != nil {
		return err
	}
	body := fmt.Sprintf(
		"Hello %s,\n\nA password reset was requested for your Digital Coaching account.\n"+
			"Open the link below to choose a new password. The link expires in one hour.\n\n%s?token=%s\n\n"+
			"If you did not request this, you can ignore this email.",
		user.FullName, s.resetURLBase, token)
	if err := s.notifier.Send(ctx, user.Email, "Password reset", body, ""); err != nil {
		slog.Error("send reset email failed", "user_id", user.ID, "error", err)
	}
	return nil
}

// ResetPassword burns the reset token, replaces the password, and
// revokes every outstanding refresh token for the account.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < 8 {
		return domain.ErrInvalidInput
	}
	rec, err := s.tokens.ConsumeReset(ctx, token)
	if err != nil {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, rec.UserID, string(hash)); err != nil {
		return err
	}
	if err := s.tokens.RevokeAllRefresh(ctx, rec.UserID); err != nil {
		slog.Error("revoke refresh tokens failed", "user_id", rec.UserID, "error", err)
	}
	return nil
}
