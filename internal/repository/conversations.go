package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachdesk/coachd/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConversationRepo struct {
	db *pgxpool.Pool
}

func NewConversationRepo(db *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = "id, user_id, email, bot_id, title, stage, ui_lang, is_deleted, created_at, updated_at"

func scanConversation(row pgx.Row) (*domain.Conversation, error) {
	var c domain.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Email, &c.BotID, &c.Title, &c.Stage, &c.UILang, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *ConversationRepo) Create(ctx context.Context, email, botID string, userID *int64) (*domain.Conversation, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO conversations (user_id, email, bot_id)
		VALUES ($1, $2, $3)
		RETURNING `+conversationColumns,
		userID, email, botID)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// FindActive resolves a live, owned, matching-bot conversation.
// Returns domain.ErrConversationNotFound for foreign or deleted ids.
func (r *ConversationRepo) FindActive(ctx context.Context, email, botID string, chatID int64) (*domain.Conversation, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1 AND email = $2 AND bot_id = $3 AND is_deleted = FALSE`,
		chatID, email, botID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return conv, nil
}

func (r *ConversationRepo) BackfillOwner(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations SET user_id = $2 WHERE id = $1 AND user_id IS NULL`,
		conversationID, userID)
	if err != nil {
		return fmt.Errorf("backfill owner: %w", err)
	}
	return nil
}

func (r *ConversationRepo) AppendMessage(ctx context.Context, conversationID int64, role, content string, createdAt time.Time) (*domain.Message, error) {
	return appendMessage(ctx, r.db, conversationID, role, content, createdAt)
}

func appendMessage(ctx context.Context, q DBTX, conversationID int64, role, content string, createdAt time.Time) (*domain.Message, error) {
	var m domain.Message
	err := q.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, role, content, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id, conversation_id, role, content, is_edited, edited_at, created_at`,
		conversationID, role, content, createdAt,
	).Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.IsEdited, &m.EditedAt, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &m, nil
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()
	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.IsEdited, &m.EditedAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// RecentMessages returns the newest limit messages in chronological order.
func (r *ConversationRepo) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, conversation_id, role, content, is_edited, edited_at, created_at
		FROM (
			SELECT id, conversation_id, role, content, is_edited, edited_at, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`,
		conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return msgs, nil
}

func (r *ConversationRepo) Messages(ctx context.Context, conversationID int64) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, conversation_id, role, content, is_edited, edited_at, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return msgs, nil
}

func (r *ConversationRepo) GetMessage(ctx context.Context, conversationID, messageID int64) (*domain.Message, error) {
	var m domain.Message
	err := r.db.QueryRow(ctx, `
		SELECT id, conversation_id, role, content, is_edited, edited_at, created_at
		FROM messages
		WHERE id = $1 AND conversation_id = $2`,
		messageID, conversationID,
	).Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.IsEdited, &m.EditedAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &m, nil
}

// List returns live conversations for one owner and bot, newest-updated first.
func (r *ConversationRepo) List(ctx context.Context, email, botID string, limit int) ([]domain.Conversation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE email = $1 AND bot_id = $2 AND is_deleted = FALSE
		ORDER BY updated_at DESC, id DESC
		LIMIT $3`,
		email, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Email, &c.BotID, &c.Title, &c.Stage, &c.UILang, &c.IsDeleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// Titles returns titles of live conversations for one owner and bot,
// excluding the conversation being titled.
func (r *ConversationRepo) Titles(ctx context.Context, email, botID string, excludeID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT title
		FROM conversations
		WHERE email = $1 AND bot_id = $2 AND is_deleted = FALSE AND id <> $3`,
		email, botID, excludeID)
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

func (r *ConversationRepo) Rename(ctx context.Context, conversationID int64, title string, updatedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations SET title = $2, updated_at = $3 WHERE id = $1`,
		conversationID, title, updatedAt)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return nil
}

func (r *ConversationRepo) SoftDelete(ctx context.Context, conversationID int64, updatedAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations SET is_deleted = TRUE, updated_at = $2 WHERE id = $1`,
		conversationID, updatedAt)
	if err != nil {
		return fmt.Errorf("soft delete conversation: %w", err)
	}
	return nil
}

// TurnCommit is everything a finished turn writes as one unit: the
// assistant reply plus the derived state the bot returned.
type TurnCommit struct {
	ConversationID int64
	AssistantText  string
	Stage          string
	UILang         *string
	Title          *string
	Now            time.Time
}

// CommitTurn appends the assistant message and updates derived state
// in a single transaction.
func (r *ConversationRepo) CommitTurn(ctx context.Context, commit TurnCommit) (*domain.Message, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin turn commit: %w", err)
	}
	defer tx.Rollback(ctx)

	msg, err := appendMessage(ctx, tx, commit.ConversationID, domain.RoleAssistant, commit.AssistantText, commit.Now)
	if err != nil {
		return nil, err
	}

	if commit.Title != nil {
		_, err = tx.Exec(ctx, `
			UPDATE conversations SET stage = $2, ui_lang = $3, title = $4, updated_at = $5 WHERE id = $1`,
			commit.ConversationID, commit.Stage, commit.UILang, *commit.Title, commit.Now)
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE conversations SET stage = $2, ui_lang = $3, updated_at = $4 WHERE id = $1`,
			commit.ConversationID, commit.Stage, commit.UILang, commit.Now)
	}
	if err != nil {
		return nil, fmt.Errorf("update derived state: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit turn: %w", err)
	}
	return msg, nil
}

type EditMessageParams struct {
	ConversationID int64
	MessageID      int64
	Content        string
	Truncate       bool
	Now            time.Time
}

// EditMessage updates a user message in place and, when Truncate is
// set, removes every message after it. Assistant messages cannot be
// edited.
func (r *ConversationRepo) EditMessage(ctx context.Context, params EditMessageParams) (*domain.Message, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin edit: %w", err)
	}
	defer tx.Rollback(ctx)

	var m domain.Message
	err = tx.QueryRow(ctx, `
		SELECT id, conversation_id, role, content, is_edited, edited_at, created_at
		FROM messages
		WHERE id = $1 AND conversation_id = $2`,
		params.MessageID, params.ConversationID,
	).Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.IsEdited, &m.EditedAt, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	if m.Role != domain.RoleUser {
		return nil, domain.ErrInvalidEdit
	}

	err = tx.QueryRow(ctx, `
		UPDATE messages SET content = $2, is_edited = TRUE, edited_at = $3
		WHERE id = $1
		RETURNING content, is_edited, edited_at`,
		params.MessageID, params.Content, params.Now,
	).Scan(&m.Content, &m.IsEdited, &m.EditedAt)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}

	if params.Truncate {
		_, err = tx.Exec(ctx, `
			DELETE FROM messages WHERE conversation_id = $1 AND id > $2`,
			params.ConversationID, params.MessageID)
		if err != nil {
			return nil, fmt.Errorf("truncate messages: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations SET updated_at = $2 WHERE id = $1`,
		params.ConversationID, params.Now)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit edit: %w", err)
	}
	return &m, nil
}
