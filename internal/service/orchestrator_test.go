package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/coachdesk/coachd/internal/bot"
	"github.com/coachdesk/coachd/internal/config"
	"github.com/coachdesk/coachd/internal/domain"
	"github.com/coachdesk/coachd/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	nextConvID int64
	nextMsgID  int64
	convs      map[int64]*domain.Conversation
	messages   map[int64][]domain.Message
	commits    []repository.TurnCommit
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		convs:    map[int64]*domain.Conversation{},
		messages: map[int64][]domain.Message{},
	}
}

func (s *fakeStore) Create(_ context.Context, email, botID string, userID *int64) (*domain.Conversation, error) {
	s.nextConvID++
	conv := &domain.Conversation{
		ID:     s.nextConvID,
		UserID: userID,
		Email:  email,
		BotID:  botID,
		Title:  config.DefaultTitle,
		Stage:  config.DefaultStage,
	}
	s.convs[conv.ID] = conv
	cp := *conv
	return &cp, nil
}

func (s *fakeStore) FindActive(_ context.Context, email, botID string, chatID int64) (*domain.Conversation, error) {
	conv, ok := s.convs[chatID]
	if !ok || conv.IsDeleted || conv.Email != email || conv.BotID != botID {
		return nil, domain.ErrConversationNotFound
	}
	cp := *conv
	return &cp, nil
}

func (s *fakeStore) BackfillOwner(_ context.Context, conversationID, userID int64) error {
	if conv, ok := s.convs[conversationID]; ok {
		conv.UserID = &userID
	}
	return nil
}

func (s *fakeStore) AppendMessage(_ context.Context, conversationID int64, role, content string, createdAt time.Time) (*domain.Message, error) {
	s.nextMsgID++
	msg := domain.Message{
		ID:             s.nextMsgID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      createdAt,
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	cp := msg
	return &cp, nil
}

func (s *fakeStore) RecentMessages(_ context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	msgs := s.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *fakeStore) Titles(_ context.Context, email, botID string, excludeID int64) ([]string, error) {
	var titles []string
	for _, conv := range s.convs {
		if conv.Email == email && conv.BotID == botID && conv.ID != excludeID && !conv.IsDeleted {
			titles = append(titles, conv.Title)
		}
	}
	return titles, nil
}

func (s *fakeStore) CommitTurn(_ context.Context, commit repository.TurnCommit) (*domain.Message, error) {
	s.commits = append(s.commits, commit)
	conv, ok := s.convs[commit.ConversationID]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	msg, _ := s.AppendMessage(context.Background(), commit.ConversationID, domain.RoleAssistant, commit.AssistantText, commit.Now)
	conv.Stage = commit.Stage
	conv.UILang = commit.UILang
	if commit.Title != nil {
		conv.Title = *commit.Title
	}
	conv.UpdatedAt = commit.Now
	return msg, nil
}

func (s *fakeStore) EditMessage(_ context.Context, params repository.EditMessageParams) (*domain.Message, error) {
	msgs := s.messages[params.ConversationID]
	idx := -1
	for i, m := range msgs {
		if m.ID == params.MessageID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, domain.ErrMessageNotFound
	}
	if msgs[idx].Role != domain.RoleUser {
		return nil, domain.ErrInvalidEdit
	}
	msgs[idx].Content = params.Content
	msgs[idx].IsEdited = true
	at := params.Now
	msgs[idx].EditedAt = &at
	if params.Truncate {
		msgs = msgs[:idx+1]
	}
	s.messages[params.ConversationID] = msgs
	if conv, ok := s.convs[params.ConversationID]; ok {
		conv.UpdatedAt = params.Now
	}
	cp := msgs[idx]
	return &cp, nil
}

func (s *fakeStore) List(_ context.Context, email, botID string, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	for _, conv := range s.convs {
		if conv.Email == email && conv.BotID == botID && !conv.IsDeleted {
			out = append(out, *conv)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) Messages(_ context.Context, conversationID int64) ([]domain.Message, error) {
	msgs := s.messages[conversationID]
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *fakeStore) Rename(_ context.Context, conversationID int64, title string, updatedAt time.Time) error {
	conv, ok := s.convs[conversationID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	conv.Title = title
	conv.UpdatedAt = updatedAt
	return nil
}

func (s *fakeStore) SoftDelete(_ context.Context, conversationID int64, updatedAt time.Time) error {
	conv, ok := s.convs[conversationID]
	if !ok {
		return domain.ErrConversationNotFound
	}
	conv.IsDeleted = true
	conv.UpdatedAt = updatedAt
	return nil
}

type fakeOwners struct{ id *int64 }

func (f fakeOwners) UserIDByEmail(context.Context, string) (*int64, error) { return f.id, nil }

type fakeUsage struct{ records []domain.UsageRecord }

func (f *fakeUsage) Record(_ context.Context, rec domain.UsageRecord) error {
	f.records = append(f.records, rec)
	return nil
}

// fakeBot scripts one turn: emit the fragments in order, then either
// succeed with their concatenation or fail with err.
type fakeBot struct {
	id        string
	ephemeral bool
	fragments []string
	stage     string
	err       error
	tokens    int
	calls     int
}

func (f *fakeBot) ID() string      { return f.id }
func (f *fakeBot) Label() string   { return f.id }
func (f *fakeBot) Ephemeral() bool { return f.ephemeral }

func (f *fakeBot) reply(text string) bot.Reply {
	stage := f.stage
	if stage == "" {
		stage = bot.StageIdle
	}
	return bot.Reply{Text: text, Stage: stage, PromptTokens: f.tokens, CompletionTokens: f.tokens}
}

func (f *fakeBot) Invoke(_ context.Context, _ bot.Invocation) (bot.Reply, error) {
	f.calls++
	var text string
	for _, fr := range f.fragments {
		text += fr
	}
	if f.err != nil {
		return bot.Reply{}, f.err
	}
	return f.reply(text), nil
}

func (f *fakeBot) Stream(_ context.Context, _ bot.Invocation, emit func(string) error) (bot.Reply, error) {
	f.calls++
	var text string
	for _, fr := range f.fragments {
		if err := emit(fr); err != nil {
			return f.reply(text), err
		}
		text += fr
	}
	if f.err != nil {
		return f.reply(text), f.err
	}
	return f.reply(text), nil
}

// collectSink records every event in arrival order.
type collectSink struct {
	metas  []*int64
	deltas []string
	dones  []DoneEvent
	errs   []string
}

func (c *collectSink) Meta(chatID *int64) error {
	c.metas = append(c.metas, chatID)
	return nil
}
func (c *collectSink) Delta(text string) error {
	c.deltas = append(c.deltas, text)
	return nil
}
func (c *collectSink) Done(ev DoneEvent) error {
	c.dones = append(c.dones, ev)
	return nil
}
func (c *collectSink) Error(message string) error {
	c.errs = append(c.errs, message)
	return nil
}

func (c *collectSink) joined() string {
	var out string
	for _, d := range c.deltas {
		out += d
	}
	return out
}

func newTestOrchestrator(store *fakeStore, usage *fakeUsage, bots ...*fakeBot) *Orchestrator {
	reg := bot.Registry{}
	for _, b := range bots {
		reg[b.id] = b
	}
	return NewOrchestrator(reg, store, fakeOwners{}, usage, NewEphemeralCache(time.Hour, 60, 100), "test-model", 0.5, 1.5)
}

func TestProcessTurnUnknownBot(t *testing.T) {
	o := newTestOrchestrator(newFakeStore(), nil)
	_, err := o.ProcessTurn(context.Background(), TurnRequest{Email: "a@b.c", BotID: "nope", Message: "hi"}, nil)
	assert.ErrorIs(t, err, domain.ErrUnknownBot)
}

func TestProcessTurnEmptyMessage(t *testing.T) {
	o := newTestOrchestrator(newFakeStore(), nil, &fakeBot{id: "personal"})
	_, err := o.ProcessTurn(context.Background(), TurnRequest{Email: "a@b.c", BotID: "personal", Message: "   "}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestProcessTurnDurablePersistsAndTitles(t *testing.T) {
	store := newFakeStore()
	usage := &fakeUsage{}
	b := &fakeBot{id: "personal", fragments: []string{"Here is my advice."}, tokens: 10}
	o := newTestOrchestrator(store, usage, b)

	res, err := o.ProcessTurn(context.Background(), TurnRequest{
		Email:   "a@b.c",
		BotID:   "personal",
		Message: "I need help understanding the onboarding process",
	}, nil)
	require.NoError(t, err)

	require.NotNil(t, res.ChatID)
	assert.Equal(t, "Here is my advice.", res.Reply)
	assert.Equal(t, "Need help understanding the", res.Title)

	msgs := store.messages[*res.ChatID]
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "I need help understanding the onboarding process", msgs[0].Content)
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)

	require.Len(t, usage.records, 1)
	assert.Equal(t, "test-model", usage.records[0].Model)
	assert.Equal(t, 10, usage.records[0].PromptTokens)
	// 10*0.5 + 10*1.5 over a million tokens.
	assert.Equal(t, "0.00002", usage.records[0].Cost.String())
}

func TestProcessTurnTitleCollisionSuffixed(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", fragments: []string{"ok"}}
	o := newTestOrchestrator(store, nil, b)
	ctx := context.Background()

	prior, err := store.Create(ctx, "a@b.c", "personal", nil)
	require.NoError(t, err)
	store.convs[prior.ID].Title = "Need help understanding the"

	res, err := o.ProcessTurn(ctx, TurnRequest{
		Email:   "a@b.c",
		BotID:   "personal",
		Message: "I need help understanding the onboarding process",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Need help understanding the (2)", res.Title)
}

func TestProcessTurnShortMessageKeepsDefaultTitle(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", fragments: []string{"ok"}}
	o := newTestOrchestrator(store, nil, b)

	res, err := o.ProcessTurn(context.Background(), TurnRequest{
		Email: "a@b.c", BotID: "personal", Message: "hello there",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultTitle, res.Title)
	require.Len(t, store.commits, 1)
	assert.Nil(t, store.commits[0].Title)
}

func TestProcessTurnContinuesExistingConversation(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", fragments: []string{"second answer"}}
	o := newTestOrchestrator(store, nil, b)
	ctx := context.Background()

	first, err := o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "personal", Message: "first question about planning"}, nil)
	require.NoError(t, err)

	second, err := o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "personal", Message: "a follow up", ChatID: first.ChatID}, nil)
	require.NoError(t, err)
	assert.Equal(t, *first.ChatID, *second.ChatID)
	assert.Len(t, store.messages[*first.ChatID], 4)
}

func TestProcessTurnInvokeErrorPersistsApology(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", err: errors.New("model down")}
	o := newTestOrchestrator(store, nil, b)

	res, err := o.ProcessTurn(context.Background(), TurnRequest{
		Email: "a@b.c", BotID: "personal", Message: "a long enough meaningful question here",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, config.ApologyReply, res.Reply)

	msgs := store.messages[*res.ChatID]
	require.Len(t, msgs, 2)
	assert.Equal(t, config.ApologyReply, msgs[1].Content)
}

func TestProcessTurnStreamHappyPath(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", fragments: []string{"part one, ", "part two."}}
	o := newTestOrchestrator(store, nil, b)
	sink := &collectSink{}

	res, err := o.ProcessTurn(context.Background(), TurnRequest{
		Email: "a@b.c", BotID: "personal", Message: "a question worth streaming an answer for",
	}, sink)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Len(t, sink.metas, 1)
	require.NotNil(t, sink.metas[0])
	assert.Equal(t, *res.ChatID, *sink.metas[0])
	assert.Equal(t, "part one, part two.", sink.joined())
	require.Len(t, sink.dones, 1)
	assert.Empty(t, sink.errs)
	assert.Equal(t, res.Title, sink.dones[0].Title)

	msgs := store.messages[*res.ChatID]
	require.Len(t, msgs, 2)
	assert.Equal(t, sink.joined(), msgs[1].Content)
}

func TestProcessTurnStreamChunksLongFragments(t *testing.T) {
	store := newFakeStore()
	long := "this synthesized reply is well over twenty runes long"
	b := &fakeBot{id: "personal", fragments: []string{long}}
	o := newTestOrchestrator(store, nil, b)
	sink := &collectSink{}

	_, err := o.ProcessTurn(context.Background(), TurnRequest{
		Email: "a@b.c", BotID: "personal", Message: "a question worth streaming an answer for",
	}, sink)
	require.NoError(t, err)

	assert.Greater(t, len(sink.deltas), 1)
	for _, d := range sink.deltas {
		assert.LessOrEqual(t, len([]rune(d)), config.StreamChunkSize)
	}
	assert.Equal(t, long, sink.joined())
}

func TestProcessTurnStreamMidFailureKeepsPartial(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", fragments: []string{"partial ", "answer"}, err: errors.New("stream cut")}
	o := newTestOrchestrator(store, nil, b)
	sink := &collectSink{}

	res, err := o.ProcessTurn(context.Background(), TurnRequest{
		Email: "a@b.c", BotID: "personal", Message: "a question that will be cut off mid answer",
	}, sink)
	require.NoError(t, err, "after meta the stream owns all outcomes")
	assert.Nil(t, res)

	assert.Empty(t, sink.dones, "a failed stream must not report done")
	require.Len(t, sink.errs, 1)
	assert.Equal(t, config.ApologyReply, sink.errs[0])

	msgs := store.messages[1]
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].Content)
}

func TestProcessTurnStreamFailureBeforeContent(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", err: errors.New("model down")}
	o := newTestOrchestrator(store, nil, b)
	sink := &collectSink{}

	res, err := o.ProcessTurn(context.Background(), TurnRequest{
		Email: "a@b.c", BotID: "personal", Message: "a question the model never answers",
	}, sink)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, config.ApologyReply, sink.joined())
	require.Len(t, sink.dones, 1)
	assert.Empty(t, sink.errs)
}

func TestProcessTurnEphemeralSkipsStore(t *testing.T) {
	store := newFakeStore()
	usage := &fakeUsage{}
	b := &fakeBot{id: "widget", ephemeral: true, fragments: []string{"support answer"}, tokens: 3}
	o := newTestOrchestrator(store, usage, b)
	ctx := context.Background()

	res, err := o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "widget", Message: "how do I reset my password"}, nil)
	require.NoError(t, err)

	assert.Nil(t, res.ChatID)
	assert.Equal(t, config.EphemeralTitle, res.Title)
	assert.Empty(t, store.convs)
	assert.Empty(t, store.messages)

	// The cached transcript feeds the next turn.
	sess, ok := o.ephemeral.Get(EphemeralKey("widget", "a@b.c"))
	require.True(t, ok)
	require.Len(t, sess.History, 2)
	assert.Equal(t, "support answer", sess.History[1].Content)

	require.Len(t, usage.records, 1)
	assert.Nil(t, usage.records[0].ConversationID)
}

func TestProcessTurnEphemeralStream(t *testing.T) {
	b := &fakeBot{id: "widget", ephemeral: true, fragments: []string{"hi"}}
	o := newTestOrchestrator(newFakeStore(), nil, b)
	sink := &collectSink{}

	res, err := o.ProcessTurn(context.Background(), TurnRequest{Email: "a@b.c", BotID: "widget", Message: "hello"}, sink)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Len(t, sink.metas, 1)
	assert.Nil(t, sink.metas[0], "ephemeral turns carry no chat id")
	require.Len(t, sink.dones, 1)
	assert.Nil(t, sink.dones[0].ChatID)
	assert.Equal(t, config.EphemeralTitle, sink.dones[0].Title)
}

func TestEditMessageNoRegenerate(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", fragments: []string{"answer"}}
	o := newTestOrchestrator(store, nil, b)
	ctx := context.Background()

	turn, err := o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "personal", Message: "first question about planning"}, nil)
	require.NoError(t, err)
	userMsgID := store.messages[*turn.ChatID][0].ID

	res, err := o.EditMessage(ctx, EditRequest{
		Email: "a@b.c", BotID: "personal", ChatID: *turn.ChatID,
		MessageID: userMsgID, Content: "corrected question",
	}, nil)
	require.NoError(t, err)

	assert.Nil(t, res.Turn)
	assert.Equal(t, "corrected question", res.Message.Content)
	assert.True(t, res.Message.IsEdited)
	// Without regenerate the assistant reply stays.
	assert.Len(t, store.messages[*turn.ChatID], 2)
	assert.Equal(t, 1, b.calls)
}

func TestEditMessageRegenerateTruncatesTail(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", fragments: []string{"regenerated answer"}}
	o := newTestOrchestrator(store, nil, b)
	ctx := context.Background()

	turn, err := o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "personal", Message: "first question about planning"}, nil)
	require.NoError(t, err)
	_, err = o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "personal", Message: "second question", ChatID: turn.ChatID}, nil)
	require.NoError(t, err)
	require.Len(t, store.messages[*turn.ChatID], 4)
	userMsgID := store.messages[*turn.ChatID][0].ID

	res, err := o.EditMessage(ctx, EditRequest{
		Email: "a@b.c", BotID: "personal", ChatID: *turn.ChatID,
		MessageID: userMsgID, Content: "a rewritten first question", Regenerate: true,
	}, nil)
	require.NoError(t, err)

	require.NotNil(t, res.Turn)
	assert.Equal(t, "regenerated answer", res.Turn.Reply)

	// Everything after the edited message was replaced by one fresh reply.
	msgs := store.messages[*turn.ChatID]
	require.Len(t, msgs, 2)
	assert.Equal(t, "a rewritten first question", msgs[0].Content)
	assert.Equal(t, "regenerated answer", msgs[1].Content)
}

func TestEditMessageRejectsAssistantMessage(t *testing.T) {
	store := newFakeStore()
	b := &fakeBot{id: "personal", fragments: []string{"answer"}}
	o := newTestOrchestrator(store, nil, b)
	ctx := context.Background()

	turn, err := o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "personal", Message: "first question about planning"}, nil)
	require.NoError(t, err)
	assistantID := store.messages[*turn.ChatID][1].ID

	_, err = o.EditMessage(ctx, EditRequest{
		Email: "a@b.c", BotID: "personal", ChatID: *turn.ChatID,
		MessageID: assistantID, Content: "tampered",
	}, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidEdit)
}

func TestEditMessageEphemeralBotNotFound(t *testing.T) {
	b := &fakeBot{id: "widget", ephemeral: true}
	o := newTestOrchestrator(newFakeStore(), nil, b)

	_, err := o.EditMessage(context.Background(), EditRequest{
		Email: "a@b.c", BotID: "widget", ChatID: 1, MessageID: 1, Content: "x",
	}, nil)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestProcessTurnHistoryWindow(t *testing.T) {
	store := newFakeStore()
	var seen int
	b := &fakeBot{id: "personal", fragments: []string{"ok"}}
	o := newTestOrchestrator(store, nil, b)
	o.historyLimit = 6
	ctx := context.Background()

	conv, err := store.Create(ctx, "a@b.c", "personal", nil)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := store.AppendMessage(ctx, conv.ID, domain.RoleUser, fmt.Sprintf("old %d", i), time.Now())
		require.NoError(t, err)
	}

	// Count via the invocation the bot receives.
	probe := &probeBot{fakeBot: b, seen: &seen}
	o.bots["personal"] = probe

	_, err = o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "personal", Message: "newest", ChatID: &conv.ID}, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, seen)
}

type probeBot struct {
	*fakeBot
	seen *int
}

func (p *probeBot) Invoke(ctx context.Context, inv bot.Invocation) (bot.Reply, error) {
	*p.seen = len(inv.History)
	return p.fakeBot.Invoke(ctx, inv)
}

// ctxStore refuses writes once the commit context is dead, like a real
// database would.
type ctxStore struct {
	*fakeStore
}

func (s *ctxStore) CommitTurn(ctx context.Context, commit repository.TurnCommit) (*domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fakeStore.CommitTurn(ctx, commit)
}

// blockingBot holds the invocation open until its context expires.
type blockingBot struct {
	*fakeBot
}

func (b *blockingBot) Invoke(ctx context.Context, _ bot.Invocation) (bot.Reply, error) {
	<-ctx.Done()
	return bot.Reply{}, ctx.Err()
}

func (b *blockingBot) Stream(ctx context.Context, _ bot.Invocation, _ func(string) error) (bot.Reply, error) {
	<-ctx.Done()
	return bot.Reply{}, ctx.Err()
}

func TestProcessTurnTimedOutInvocationPersistsApology(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, nil, &fakeBot{id: "personal"})
	o.store = &ctxStore{fakeStore: store}
	o.bots["personal"] = &blockingBot{fakeBot: &fakeBot{id: "personal"}}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := o.ProcessTurn(ctx, TurnRequest{
		Email: "a@b.c", BotID: "personal", Message: "a question the model never answers in time",
	}, nil)
	require.NoError(t, err, "a timed-out invocation resolves to the apology, not an error")
	assert.Equal(t, config.ApologyReply, res.Reply)

	msgs := store.messages[*res.ChatID]
	require.Len(t, msgs, 2, "the apology row must land even though the request context expired")
	assert.Equal(t, config.ApologyReply, msgs[1].Content)
}

func TestProcessTurnTimedOutStreamPersistsApology(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store, nil, &fakeBot{id: "personal"})
	o.store = &ctxStore{fakeStore: store}
	o.bots["personal"] = &blockingBot{fakeBot: &fakeBot{id: "personal"}}
	o.botTimeout = 20 * time.Millisecond
	sink := &collectSink{}

	res, err := o.ProcessTurn(context.Background(), TurnRequest{
		Email: "a@b.c", BotID: "personal", Message: "a question the model never answers in time",
	}, sink)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, config.ApologyReply, sink.joined())
	require.Len(t, sink.dones, 1)
	msgs := store.messages[*res.ChatID]
	require.Len(t, msgs, 2)
	assert.Equal(t, config.ApologyReply, msgs[1].Content)
}

// deadlineBot records whether each invocation carried a deadline.
type deadlineBot struct {
	*fakeBot
	bounded []bool
}

func (b *deadlineBot) Invoke(ctx context.Context, inv bot.Invocation) (bot.Reply, error) {
	_, ok := ctx.Deadline()
	b.bounded = append(b.bounded, ok)
	return b.fakeBot.Invoke(ctx, inv)
}

func (b *deadlineBot) Stream(ctx context.Context, inv bot.Invocation, emit func(string) error) (bot.Reply, error) {
	_, ok := ctx.Deadline()
	b.bounded = append(b.bounded, ok)
	return b.fakeBot.Stream(ctx, inv, emit)
}

func TestProcessTurnBoundsEveryInvocation(t *testing.T) {
	store := newFakeStore()
	inner := &fakeBot{id: "personal", fragments: []string{"ok"}}
	db := &deadlineBot{fakeBot: inner}
	o := newTestOrchestrator(store, nil, inner)
	o.bots["personal"] = db
	widget := &deadlineBot{fakeBot: &fakeBot{id: "widget", ephemeral: true, fragments: []string{"hi"}}}
	o.bots["widget"] = widget
	ctx := context.Background()

	turn, err := o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "personal", Message: "first question about planning"}, nil)
	require.NoError(t, err)
	_, err = o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "personal", Message: "again", ChatID: turn.ChatID}, &collectSink{})
	require.NoError(t, err)
	_, err = o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "widget", Message: "hello"}, nil)
	require.NoError(t, err)
	_, err = o.ProcessTurn(ctx, TurnRequest{Email: "a@b.c", BotID: "widget", Message: "hello again"}, &collectSink{})
	require.NoError(t, err)

	require.Len(t, db.bounded, 2)
	require.Len(t, widget.bounded, 2)
	for _, ok := range append(db.bounded, widget.bounded...) {
		assert.True(t, ok, "every bot invocation must run under a deadline")
	}
}
