package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/coachdesk/coachd/internal/bot"
	"github.com/coachdesk/coachd/internal/config"
	"github.com/coachdesk/coachd/internal/domain"
	"github.com/coachdesk/coachd/internal/llm"
	"github.com/coachdesk/coachd/internal/repository"
	"github.com/shopspring/decimal"
)

// ConversationStore is the durable side of conversations and messages.
type ConversationStore interface {
	Create(ctx context.Context, email, botID string, userID *int64) (*domain.Conversation, error)
	FindActive(ctx context.Context, email, botID string, chatID int64) (*domain.Conversation, error)
	BackfillOwner(ctx context.Context, conversationID, userID int64) error
	AppendMessage(ctx context.Context, conversationID int64, role, content string, createdAt time.Time) (*domain.Message, error)
	RecentMessages(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error)
	Titles(ctx context.Context, email, botID string, excludeID int64) ([]string, error)
	CommitTurn(ctx context.Context, commit repository.TurnCommit) (*domain.Message, error)
	EditMessage(ctx context.Context, params repository.EditMessageParams) (*domain.Message, error)
}

// OwnerResolver maps a caller email to a user id, if one exists.
type OwnerResolver interface {
	UserIDByEmail(ctx context.Context, email string) (*int64, error)
}

// UsageStore records model consumption per assistant reply.
type UsageStore interface {
	Record(ctx context.Context, rec domain.UsageRecord) error
}

// TurnRequest is one incoming user message.
type TurnRequest struct {
	Email   string
	BotID   string
	Message string
	ChatID  *int64
}

// TurnResult is the completed turn. ChatID is nil for ephemeral bots.
type TurnResult struct {
	BotID     string
	Reply     string
	ChatID    *int64
	Title     string
	UpdatedAt time.Time
}

type EditRequest struct {
	Email      string
	BotID      string
	ChatID     int64
	MessageID  int64
	Content    string
	Regenerate bool
}

// EditResult carries the edited message and, when the caller asked to
// regenerate, the fresh turn that replaced the truncated tail.
type EditResult struct {
	Message *domain.Message
	Turn    *TurnResult
}

// Orchestrator drives one turn end to end: resolve the bot and the
// conversation (durable or ephemeral), persist the user message first,
// invoke the bot, and commit the reply plus derived state as one unit.
type Orchestrator struct {
	bots               bot.Registry
	store              ConversationStore
	users              OwnerResolver
	usage              UsageStore
	ephemeral          *EphemeralCache
	model              string
	promptCostPerM     decimal.Decimal
	completionCostPerM decimal.Decimal
	historyLimit       int
	chunkSize          int
	botTimeout         time.Duration
	now                func() time.Time
}

func NewOrchestrator(
	bots bot.Registry,
	store ConversationStore,
	users OwnerResolver,
	usage UsageStore,
	ephemeral *EphemeralCache,
	model string,
	promptCostPerM, completionCostPerM float64,
) *Orchestrator {
	return &Orchestrator{
		bots:               bots,
		store:              store,
		users:              users,
		usage:              usage,
		ephemeral:          ephemeral,
		model:              model,
		promptCostPerM:     decimal.NewFromFloat(promptCostPerM),
		completionCostPerM: decimal.NewFromFloat(completionCostPerM),
		historyLimit:       config.HistoryLimit,
		chunkSize:          config.StreamChunkSize,
		botTimeout:         config.BotTimeout,
		now:                time.Now,
	}
}

// invoke runs the bot call under the invocation timeout. The bound
// applies to the model exchange only; callers commit on their own
// context so a timed-out invocation cannot abort the commit.
func (o *Orchestrator) invoke(ctx context.Context, b bot.Capability, inv bot.Invocation) (bot.Reply, error) {
	ictx, cancel := context.WithTimeout(ctx, o.botTimeout)
	defer cancel()
	return b.Invoke(ictx, inv)
}

func (o *Orchestrator) stream(ctx context.Context, b bot.Capability, inv bot.Invocation, emit func(string) error) (bot.Reply, error) {
	ictx, cancel := context.WithTimeout(ctx, o.botTimeout)
	defer cancel()
	return b.Stream(ictx, inv, emit)
}

func (o *Orchestrator) Bot(botID string) (bot.Capability, bool) {
	return o.bots.Get(botID)
}

// ProcessTurn handles one user message. With a nil sink the reply is
// returned whole; with a sink the reply is delivered as Meta, Delta
// and a terminal event. Once Meta has been sent every outcome reaches
// the client through the sink and the returned error is nil.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest, sink EventSink) (*TurnResult, error) {
	b, ok := o.bots.Get(req.BotID)
	if !ok {
		return nil, domain.ErrUnknownBot
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return nil, domain.ErrInvalidInput
	}

	if b.Ephemeral() {
		return o.processEphemeral(ctx, b, req, sink)
	}
	return o.processDurable(ctx, b, req, sink)
}

func toLLMHistory(msgs []domain.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func apologyReply(stage string, uiLang *string) bot.Reply {
	return bot.Reply{Text: config.ApologyReply, Stage: stage, UILang: uiLang}
}

func (o *Orchestrator) recordUsage(ctx context.Context, conversationID *int64, botID string, reply bot.Reply) {
	if o.usage == nil || reply.PromptTokens == 0 && reply.CompletionTokens == 0 {
		return
	}
	million := decimal.NewFromInt(1_000_000)
	cost := decimal.NewFromInt(int64(reply.PromptTokens)).Mul(o.promptCostPerM).
		Add(decimal.NewFromInt(int64(reply.CompletionTokens)).Mul(o.completionCostPerM)).
		Div(million)
	err := o.usage.Record(ctx, domain.UsageRecord{
		ConversationID:   conversationID,
		BotID:            botID,
		Model:            o.model,
		PromptTokens:     reply.PromptTokens,
		CompletionTokens: reply.CompletionTokens,
		Cost:             cost,
		CreatedAt:        o.now(),
	})
	if err != nil {
		slog.Error("record usage failed", "bot", botID, "error", err)
	}
}

func (o *Orchestrator) processEphemeral(ctx context.Context, b bot.Capability, req TurnRequest, sink EventSink) (*TurnResult, error) {
	key := EphemeralKey(b.ID(), req.Email)
	sess, _ := o.ephemeral.Get(key)
	stage := sess.Stage
	if stage == "" {
		stage = bot.StageIdle
	}
	inv := bot.Invocation{
		Message:   req.Message,
		History:   append(sess.History, llm.Message{Role: llm.RoleUser, Content: req.Message}),
		Stage:     stage,
		UILang:    sess.UILang,
		UserEmail: req.Email,
	}

	finish := func(reply bot.Reply) *TurnResult {
		o.ephemeral.Commit(key, req.Message, reply.Text, reply.Stage, reply.UILang)
		o.recordUsage(context.WithoutCancel(ctx), nil, b.ID(), reply)
		return &TurnResult{
			BotID:     b.ID(),
			Reply:     reply.Text,
			Title:     config.EphemeralTitle,
			UpdatedAt: o.now(),
		}
	}

	if sink == nil {
		reply, err := o.invoke(ctx, b, inv)
		if err != nil {
			slog.Error("bot invocation failed", "bot", b.ID(), "error", err)
			reply = apologyReply(stage, sess.UILang)
		}
		return finish(reply), nil
	}

	if err := sink.Meta(nil); err != nil {
		return nil, nil
	}
	reply, err := o.stream(ctx, b, inv, chunkedEmit(sink.Delta, o.chunkSize))
	if err != nil && reply.Text != "" {
		slog.Error("bot stream failed mid-generation", "bot", b.ID(), "error", err)
		finish(reply)
		_ = sink.Error(config.ApologyReply)
		return nil, nil
	}
	if err != nil {
		slog.Error("bot stream failed", "bot", b.ID(), "error", err)
		reply = apologyReply(stage, sess.UILang)
		_ = chunkedEmit(sink.Delta, o.chunkSize)(reply.Text)
	}
	res := finish(reply)
	_ = sink.Done(DoneEvent{BotID: res.BotID, Title: res.Title, UpdatedAt: res.UpdatedAt})
	return res, nil
}

func (o *Orchestrator) processDurable(ctx context.Context, b bot.Capability, req TurnRequest, sink EventSink) (*TurnResult, error) {
	userID, err := o.users.UserIDByEmail(ctx, req.Email)
	if err != nil {
		slog.Error("resolve owner failed", "email", req.Email, "error", err)
		userID = nil
	}

	var conv *domain.Conversation
	if req.ChatID != nil {
		conv, err = o.store.FindActive(ctx, req.Email, b.ID(), *req.ChatID)
		if err != nil && !errors.Is(err, domain.ErrConversationNotFound) {
			return nil, err
		}
	}
	if conv == nil {
		conv, err = o.store.Create(ctx, req.Email, b.ID(), userID)
		if err != nil {
			return nil, err
		}
	} else if conv.UserID == nil && userID != nil {
		if err := o.store.BackfillOwner(ctx, conv.ID, *userID); err != nil {
			slog.Error("backfill owner failed", "chat_id", conv.ID, "error", err)
		}
	}

	// The user message commits on its own before the bot runs, so a
	// failed invocation never loses the turn.
	if _, err := o.store.AppendMessage(ctx, conv.ID, domain.RoleUser, req.Message, o.now()); err != nil {
		return nil, err
	}
	msgs, err := o.store.RecentMessages(ctx, conv.ID, o.historyLimit)
	if err != nil {
		return nil, err
	}

	inv := bot.Invocation{
		Message:   req.Message,
		History:   toLLMHistory(msgs),
		Stage:     conv.Stage,
		UILang:    conv.UILang,
		UserEmail: req.Email,
	}
	return o.runDurable(ctx, b, conv, req.Message, inv, sink)
}

// runDurable invokes the bot for an already-resolved conversation whose
// history already ends with the current user message, then commits the
// reply. Shared by fresh turns and regenerated edits.
func (o *Orchestrator) runDurable(ctx context.Context, b bot.Capability, conv *domain.Conversation, userText string, inv bot.Invocation, sink EventSink) (*TurnResult, error) {
	if sink == nil {
		reply, err := o.invoke(ctx, b, inv)
		if err != nil {
			slog.Error("bot invocation failed", "bot", b.ID(), "chat_id", conv.ID, "error", err)
			reply = apologyReply(conv.Stage, conv.UILang)
		}
		// Detached commit: when the invocation failed because the
		// request context expired, the apology row must still land so
		// the user message never ends the transcript.
		return o.finishDurable(context.WithoutCancel(ctx), b, conv, userText, reply)
	}

	chatID := conv.ID
	if err := sink.Meta(&chatID); err != nil {
		return nil, nil
	}
	reply, err := o.stream(ctx, b, inv, chunkedEmit(sink.Delta, o.chunkSize))
	if err != nil && reply.Text != "" {
		// Failed after content reached the client: keep the partial
		// transcript and close with a terminal error event. The commit
		// runs detached so a dropped client cannot cancel it.
		slog.Error("bot stream failed mid-generation", "bot", b.ID(), "chat_id", conv.ID, "error", err)
		if _, ferr := o.finishDurable(context.WithoutCancel(ctx), b, conv, userText, reply); ferr != nil {
			slog.Error("persist partial turn failed", "chat_id", conv.ID, "error", ferr)
		}
		_ = sink.Error(config.ApologyReply)
		return nil, nil
	}
	if err != nil {
		slog.Error("bot stream failed", "bot", b.ID(), "chat_id", conv.ID, "error", err)
		reply = apologyReply(conv.Stage, conv.UILang)
		_ = chunkedEmit(sink.Delta, o.chunkSize)(reply.Text)
	}

	res, ferr := o.finishDurable(context.WithoutCancel(ctx), b, conv, userText, reply)
	if ferr != nil {
		slog.Error("commit turn failed", "chat_id", conv.ID, "error", ferr)
		_ = sink.Error(config.ApologyReply)
		return nil, nil
	}
	_ = sink.Done(DoneEvent{BotID: res.BotID, ChatID: res.ChatID, Title: res.Title, UpdatedAt: res.UpdatedAt})
	return res, nil
}

// finishDurable commits the assistant reply, derived state, and (on a
// first meaningful message) the conversation title as one unit.
func (o *Orchestrator) finishDurable(ctx context.Context, b bot.Capability, conv *domain.Conversation, userText string, reply bot.Reply) (*TurnResult, error) {
	now := o.now()
	commit := repository.TurnCommit{
		ConversationID: conv.ID,
		AssistantText:  reply.Text,
		Stage:          reply.Stage,
		UILang:         reply.UILang,
		Now:            now,
	}

	title := conv.Title
	if conv.Title == config.DefaultTitle {
		if candidate := DeriveTitle(userText); candidate != config.DefaultTitle {
			existing, err := o.store.Titles(ctx, conv.Email, conv.BotID, conv.ID)
			if err != nil {
				slog.Error("list titles failed", "chat_id", conv.ID, "error", err)
			} else {
				title = UniquifyTitle(candidate, existing)
				commit.Title = &title
			}
		}
	}

	if _, err := o.store.CommitTurn(ctx, commit); err != nil {
		return nil, err
	}
	chatID := conv.ID
	o.recordUsage(ctx, &chatID, b.ID(), reply)

	return &TurnResult{
		BotID:     b.ID(),
		Reply:     reply.Text,
		ChatID:    &chatID,
		Title:     title,
		UpdatedAt: now,
	}, nil
}

// EditMessage updates a user message and, when Regenerate is set,
// truncates everything after it and runs a fresh turn on the edited
// content. Only durable conversations hold editable messages.
func (o *Orchestrator) EditMessage(ctx context.Context, req EditRequest, sink EventSink) (*EditResult, error) {
	b, ok := o.bots.Get(req.BotID)
	if !ok {
		return nil, domain.ErrUnknownBot
	}
	if b.Ephemeral() {
		return nil, domain.ErrConversationNotFound
	}
	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" {
		return nil, domain.ErrInvalidInput
	}

	conv, err := o.store.FindActive(ctx, req.Email, b.ID(), req.ChatID)
	if err != nil {
		return nil, err
	}

	msg, err := o.store.EditMessage(ctx, repository.EditMessageParams{
		ConversationID: conv.ID,
		MessageID:      req.MessageID,
		Content:        req.Content,
		Truncate:       req.Regenerate,
		Now:            o.now(),
	})
	if err != nil {
		return nil, err
	}
	if !req.Regenerate {
		return &EditResult{Message: msg}, nil
	}

	msgs, err := o.store.RecentMessages(ctx, conv.ID, o.historyLimit)
	if err != nil {
		return nil, err
	}
	inv := bot.Invocation{
		Message:   req.Content,
		History:   toLLMHistory(msgs),
		Stage:     conv.Stage,
		UILang:    conv.UILang,
		UserEmail: req.Email,
	}
	turn, err := o.runDurable(ctx, b, conv, req.Content, inv, sink)
	if err != nil {
		return nil, err
	}
	return &EditResult{Message: msg, Turn: turn}, nil
}
