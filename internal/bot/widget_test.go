package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/coachdesk/coachd/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailer struct {
	subjects []string
	bodies   []string
	replyTos []string
	err      error
}

func (f *fakeMailer) Send(_ context.Context, subject, body, replyTo string) error {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	f.replyTos = append(f.replyTos, replyTo)
	return f.err
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"j'ai un problème de connexion", "fr"},
		{"bonjour je besoin aide", "fr"},
		{"my login password is not working", "en"},
		{"help please", "en"},
		{"xyz", "en"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detectLanguage(tt.in), tt.in)
	}
}

func TestWantsHumanSupport(t *testing.T) {
	assert.True(t, wantsHumanSupport("I found a BUG in the app"))
	assert.True(t, wantsHumanSupport("je veux contacter le support"))
	assert.True(t, wantsHumanSupport("the export is not working"))
	assert.False(t, wantsHumanSupport("which bot should I use for training?"))
}

func TestBuildSubjectCapsLength(t *testing.T) {
	long := strings.Repeat("word ", 40)
	subject := buildSubject(long, "en")
	assert.True(t, strings.HasPrefix(subject, "Support request: "))
	assert.True(t, strings.HasSuffix(subject, "..."))

	assert.Equal(t, "Support request", buildSubject("", "en"))
	assert.Equal(t, "Demande de support: ça plante", buildSubject("ça plante", "fr"))
}

func TestParseSubjectDescription(t *testing.T) {
	subject, desc := parseSubjectDescription("Subject: Login broken\nDescription: The login page hangs. It times out.")
	assert.Equal(t, "Login broken", subject)
	assert.Equal(t, "The login page hangs. It times out.", desc)

	// Unlabeled output: first line becomes the subject.
	subject, desc = parseSubjectDescription("Login broken\nThe login page hangs.")
	assert.Equal(t, "Login broken", subject)
	assert.Equal(t, "The login page hangs.", desc)
}

func TestWidgetKeywordStartsSupportFlow(t *testing.T) {
	completer := &fakeCompleter{text: "unused"}
	mailer := &fakeMailer{}
	b := newWidgetBot(completer, mailer, "support@x")

	reply, err := b.Invoke(context.Background(), Invocation{
		Message: "I need human support with the app",
		Stage:   StageIdle,
	})
	require.NoError(t, err)

	assert.Equal(t, StageAwaitingSupportDetail, reply.Stage)
	assert.Contains(t, reply.Text, "describe the problem")
	assert.Empty(t, completer.calls, "the handoff prompt is canned")
	assert.Empty(t, mailer.subjects)
}

func TestWidgetDetailsTurnSendsEmail(t *testing.T) {
	completer := &fakeCompleter{text: "Subject: Export fails\nDescription: Exporting a chat to PDF errors out."}
	mailer := &fakeMailer{}
	b := newWidgetBot(completer, mailer, "support@x")

	reply, err := b.Invoke(context.Background(), Invocation{
		Message:   "when I export a chat to PDF I get an error",
		Stage:     StageAwaitingSupportDetail,
		UserEmail: "a@b.c",
	})
	require.NoError(t, err)

	assert.Equal(t, StageIdle, reply.Stage, "support flow resets after sending")
	require.Len(t, mailer.subjects, 1)
	assert.Equal(t, "Export fails", mailer.subjects[0])
	assert.Contains(t, mailer.bodies[0], "User email: a@b.c")
	assert.Contains(t, mailer.bodies[0], "Exporting a chat to PDF errors out.")
	assert.Equal(t, "a@b.c", mailer.replyTos[0])

	// The confirmation echoes the outgoing email.
	assert.Contains(t, reply.Text, "Subject: Export fails")
	assert.NotContains(t, reply.Text, "support@x")
}

func TestWidgetDetailsEmptyAsksAgain(t *testing.T) {
	mailer := &fakeMailer{}
	b := newWidgetBot(&fakeCompleter{}, mailer, "support@x")

	reply, err := b.Invoke(context.Background(), Invocation{
		Message: "   ",
		Stage:   StageAwaitingSupportDetail,
	})
	require.NoError(t, err)

	assert.Equal(t, StageAwaitingSupportDetail, reply.Stage)
	assert.Empty(t, mailer.subjects)
}

func TestWidgetMailFailureFallsBackToDirectContact(t *testing.T) {
	completer := &fakeCompleter{text: "Subject: Broken\nDescription: Something broke."}
	mailer := &fakeMailer{err: errors.New("smtp down")}
	b := newWidgetBot(completer, mailer, "support@x")

	reply, err := b.Invoke(context.Background(), Invocation{
		Message: "everything is broken",
		Stage:   StageAwaitingSupportDetail,
	})
	require.NoError(t, err, "mail failure is reported in the reply, not as an error")
	assert.Equal(t, StageIdle, reply.Stage)
	assert.Contains(t, reply.Text, "support@x")
}

func TestWidgetParaphraseFallback(t *testing.T) {
	// Model returns junk with no description: mechanical subject wins.
	completer := &fakeCompleter{text: "Subject: something"}
	mailer := &fakeMailer{}
	b := newWidgetBot(completer, mailer, "support@x")

	_, err := b.Invoke(context.Background(), Invocation{
		Message: "the app crashes on startup",
		Stage:   StageAwaitingSupportDetail,
	})
	require.NoError(t, err)

	require.Len(t, mailer.subjects, 1)
	assert.Equal(t, "Support request: the app crashes on startup", mailer.subjects[0])
}

func TestWidgetNormalQuestionGoesToModel(t *testing.T) {
	completer := &fakeCompleter{text: "Use the Write Email Assistant."}
	b := newWidgetBot(completer, &fakeMailer{}, "support@x")

	reply, err := b.Invoke(context.Background(), Invocation{
		Message: "which bot helps me draft an email?",
		History: []llm.Message{{Role: llm.RoleUser, Content: "which bot helps me draft an email?"}},
		Stage:   StageIdle,
	})
	require.NoError(t, err)

	assert.Equal(t, "Use the Write Email Assistant.", reply.Text)
	assert.Equal(t, StageIdle, reply.Stage)
	assert.Equal(t, 5, reply.PromptTokens)

	require.Len(t, completer.calls, 1)
	assert.Equal(t, widgetPrompt, completer.calls[0][0].Content)
}

func TestWidgetStreamStaticReplyEmittedWhole(t *testing.T) {
	b := newWidgetBot(&fakeCompleter{}, &fakeMailer{}, "support@x")

	var emitted []string
	reply, err := b.Stream(context.Background(), Invocation{
		Message: "technical support please",
		Stage:   StageIdle,
	}, func(s string) error {
		emitted = append(emitted, s)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, emitted, 1)
	assert.Equal(t, reply.Text, emitted[0])
	assert.Equal(t, StageAwaitingSupportDetail, reply.Stage)
}
