package repository

import (
	"context"
	"fmt"

	"github.com/coachdesk/coachd/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageRepo struct {
	db *pgxpool.Pool
}

func NewUsageRepo(db *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{db: db}
}

func (r *UsageRepo) Record(ctx context.Context, rec domain.UsageRecord) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO usage_records (conversation_id, bot_id, model, prompt_tokens, completion_tokens, cost, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ConversationID, rec.BotID, rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.Cost, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}
