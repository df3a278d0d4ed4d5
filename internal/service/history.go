package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/coachdesk/coachd/internal/bot"
	"github.com/coachdesk/coachd/internal/config"
	"github.com/coachdesk/coachd/internal/domain"
)

// HistoryStore is the durable side of conversation listing and
// lifecycle operations.
type HistoryStore interface {
	Create(ctx context.Context, email, botID string, userID *int64) (*domain.Conversation, error)
	FindActive(ctx context.Context, email, botID string, chatID int64) (*domain.Conversation, error)
	List(ctx context.Context, email, botID string, limit int) ([]domain.Conversation, error)
	Messages(ctx context.Context, conversationID int64) ([]domain.Message, error)
	Titles(ctx context.Context, email, botID string, excludeID int64) ([]string, error)
	Rename(ctx context.Context, conversationID int64, title string, updatedAt time.Time) error
	SoftDelete(ctx context.Context, conversationID int64, updatedAt time.Time) error
}

// HistoryService serves the conversation list surface. Ephemeral bots
// have no durable history, so every listing for them is empty.
type HistoryService struct {
	bots  bot.Registry
	store HistoryStore
	users OwnerResolver
	now   func() time.Time
}

func NewHistoryService(bots bot.Registry, store HistoryStore, users OwnerResolver) *HistoryService {
	return &HistoryService{bots: bots, store: store, users: users, now: time.Now}
}

func (s *HistoryService) resolve(botID string) (bot.Capability, error) {
	b, ok := s.bots.Get(botID)
	if !ok {
		return nil, domain.ErrUnknownBot
	}
	return b, nil
}

func (s *HistoryService) List(ctx context.Context, email, botID string) ([]domain.Conversation, error) {
	b, err := s.resolve(botID)
	if err != nil {
		return nil, err
	}
	if b.Ephemeral() {
		return nil, nil
	}
	convs, err := s.store.List(ctx, email, b.ID(), config.HistoryListLimit)
	if err != nil {
		return nil, err
	}
	// Listings carry the word-capped display form; the stored title
	// keeps its full length for uniquify.
	for i := range convs {
		convs[i].Title = DisplayTitle(convs[i].Title)
	}
	return convs, nil
}

// NewChat creates an empty conversation so the client can open a chat
// before the first message.
func (s *HistoryService) NewChat(ctx context.Context, email, botID string) (*domain.Conversation, error) {
	b, err := s.resolve(botID)
	if err != nil {
		return nil, err
	}
	if b.Ephemeral() {
		return nil, domain.ErrInvalidInput
	}

	userID, err := s.users.UserIDByEmail(ctx, email)
	if err != nil {
		slog.Error("resolve owner failed", "email", email, "error", err)
		userID = nil
	}
	return s.store.Create(ctx, email, b.ID(), userID)
}

func (s *HistoryService) Detail(ctx context.Context, email, botID string, chatID int64) (*domain.Conversation, []domain.Message, error) {
	b, err := s.resolve(botID)
	if err != nil {
		return nil, nil, err
	}
	if b.Ephemeral() {
		return nil, nil, domain.ErrConversationNotFound
	}

	conv, err := s.store.FindActive(ctx, email, b.ID(), chatID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := s.store.Messages(ctx, conv.ID)
	if err != nil {
		return nil, nil, err
	}
	conv.Title = DisplayTitle(conv.Title)
	return conv, msgs, nil
}

// Rename stores a collision-free version of the requested title and
// returns it together with its word-capped display form.
func (s *HistoryService) Rename(ctx context.Context, email, botID string, chatID int64, title string) (string, string, error) {
	b, err := s.resolve(botID)
	if err != nil {
		return "", "", err
	}
	title = normalizeWhitespace(title)
	if title == "" {
		return "", "", domain.ErrInvalidInput
	}

	conv, err := s.store.FindActive(ctx, email, b.ID(), chatID)
	if err != nil {
		return "", "", err
	}
	existing, err := s.store.Titles(ctx, email, b.ID(), conv.ID)
	if err != nil {
		return "", "", err
	}
	stored := UniquifyTitle(title, existing)
	if err := s.store.Rename(ctx, conv.ID, stored, s.now()); err != nil {
		return "", "", err
	}
	return stored, DisplayTitle(stored), nil
}

// Delete soft-deletes a conversation. Already-deleted or unknown ids
// report success so repeated deletes are idempotent for the caller.
func (s *HistoryService) Delete(ctx context.Context, email, botID string, chatID int64) error {
	b, err := s.resolve(botID)
	if err != nil {
		return err
	}
	conv, err := s.store.FindActive(ctx, email, b.ID(), chatID)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return nil
		}
		return err
	}
	return s.store.SoftDelete(ctx, conv.ID, s.now())
}
