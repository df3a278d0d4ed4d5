package bot

import (
	"context"

	"github.com/coachdesk/coachd/internal/llm"
)

// Conversation stages. Durable assistants start in StageSelectLang;
// the widget bot toggles between idle and awaiting support details.
const (
	StageSelectLang            = "select_lang"
	StageIdle                  = "idle"
	StageAwaitingSupportDetail = "support_waiting_details"
)

// Invocation is everything a bot needs to answer one turn. History is
// the prior transcript and already ends with the current user message.
type Invocation struct {
	Message   string
	History   []llm.Message
	Stage     string
	UILang    *string
	UserEmail string
}

// Reply is a bot's answer for one turn. Stage and UILang are
// authoritative: the caller persists them as the conversation's new
// state. Token counts are zero for turns answered without the model.
type Reply struct {
	Text             string
	Stage            string
	UILang           *string
	PromptTokens     int
	CompletionTokens int
}

// Capability is one bot variant.
type Capability interface {
	ID() string
	Label() string
	// Ephemeral bots never persist conversations.
	Ephemeral() bool
	Invoke(ctx context.Context, inv Invocation) (Reply, error)
	// Stream emits answer fragments through emit as they are produced
	// and returns the full reply. Fragments emitted before an error
	// are reflected in the returned Reply.Text.
	Stream(ctx context.Context, inv Invocation, emit func(delta string) error) (Reply, error)
}

// Completer is the slice of the model client that bots use.
type Completer interface {
	Complete(ctx context.Context, msgs []llm.Message) (llm.Result, error)
	Stream(ctx context.Context, msgs []llm.Message, emit func(delta string) error) (llm.Result, error)
	Model() string
}

// Mailer delivers support emails raised by the widget bot.
type Mailer interface {
	Send(ctx context.Context, subject, body, replyTo string) error
}

// Registry holds the fixed bot roster, keyed by bot ID. Built once at
// startup and never mutated afterwards.
type Registry map[string]Capability

func NewRegistry(completer Completer, mailer Mailer, docsDir, supportEmail string) Registry {
	reg := Registry{}
	for _, spec := range assistantSpecs {
		docText := LoadInstructionDoc(docsDir, spec.docFile)
		reg[spec.id] = newAssistantBot(spec, docText, completer)
	}
	w := newWidgetBot(completer, mailer, supportEmail)
	reg[w.ID()] = w
	return reg
}

func (r Registry) Get(id string) (Capability, bool) {
	b, ok := r[id]
	return b, ok
}
