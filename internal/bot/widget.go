package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coachdesk/coachd/internal/llm"
)

const widgetPrompt = "You are a product support assistant for the Digital Coaching app. " +
	"Your scope is to answer questions about how the app works: chat usage, bots, chat history, " +
	"troubleshooting, and human support requests (including sending support emails). " +
	"If the user reports a technical problem or asks for human support, ask them to describe the issue " +
	"in detail and tell them you will send it to technical support. " +
	"If the user asks which bot to use, recommend the best bot and explain why. " +
	"If the request is ambiguous, ask one short clarifying question before recommending. " +
	"BOT GUIDE: " +
	"Personal Problems Assistant = workplace challenges, wellbeing, blockers, and coaching. " +
	"Product and Product Lines Assistant = product strategy, product knowledge, and product line details. " +
	"Problem Formalization Assistant = structure a problem, root causes, impacts, and action steps. " +
	"Generic Training Assistant = interactive training, lessons, and quizzes. " +
	"Write Email Assistant = drafting professional emails with clear structure and tone. " +
	"If the user asks for coaching content, explain that this help chat is for support and suggest " +
	"using the main assistant chats. " +
	"LANGUAGE OVERRIDE: Always respond in the language of the user's latest message. " +
	"If the user switches languages, switch immediately. Do not ask the user to select a language. " +
	"Keep responses concise, actionable, and professional."

var supportKeywords = []string{
	"support humain", "support technique", "assistance humaine", "aide humaine",
	"contacter le support", "contact support", "human support", "technical support",
	"helpdesk", "ticket", "bug", "erreur", "error", "not working",
	"ne fonctionne pas", "ça marche pas", "probleme technique", "problème technique",
}

func wantsHumanSupport(text string) bool {
	t := strings.ToLower(text)
	for _, k := range supportKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}

var frenchWords = map[string]bool{
	"bonjour": true, "salut": true, "merci": true, "probleme": true, "problème": true,
	"aide": true, "erreur": true, "connexion": true, "mot": true, "passe": true,
	"utiliser": true, "fonctionne": true, "marche": true, "question": true, "besoin": true,
	"je": true, "tu": true, "vous": true, "nous": true, "le": true, "la": true,
	"les": true, "des": true, "dans": true, "pour": true, "avec": true,
}

var englishWords = map[string]bool{
	"i": true, "you": true, "your": true, "please": true, "help": true, "support": true,
	"problem": true, "error": true, "login": true, "password": true, "not": true,
	"working": true, "app": true, "question": true, "need": true, "issue": true,
	"bot": true, "use": true,
}

// detectLanguage takes a cheap guess between French and English so the
// canned support templates read naturally. Anything inconclusive falls
// back to English.
func detectLanguage(text string) string {
	t := strings.ToLower(text)
	if strings.ContainsAny(t, "àâäçéèêëîïôöùûüÿœ") {
		return "fr"
	}
	var frScore, enScore int
	for _, tok := range strings.FieldsFunc(t, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r == '\'')
	}) {
		if frenchWords[tok] {
			frScore++
		}
		if englishWords[tok] {
			enScore++
		}
	}
	if frScore > enScore {
		return "fr"
	}
	return "en"
}

func pick(lang, en, fr string) string {
	if lang == "fr" {
		return fr
	}
	return en
}

func buildSubject(details, lang string) string {
	clean := strings.Join(strings.Fields(details), " ")
	prefix := pick(lang, "Support request", "Demande de support")
	if clean == "" {
		return prefix
	}
	if len(clean) > 80 {
		clean = strings.TrimRight(clean[:77], " ") + "..."
	}
	return prefix + ": " + clean
}

func buildBody(description, userEmail, lang string) string {
	if userEmail == "" {
		userEmail = pick(lang, "unknown", "inconnu")
	}
	if lang == "fr" {
		return fmt.Sprintf("Demande de support Digital Coaching\nEmail utilisateur: %s\n\nDescription du probleme:\n%s",
			userEmail, strings.TrimSpace(description))
	}
	return fmt.Sprintf("Digital Coaching Support Request\nUser email: %s\n\nProblem description:\n%s",
		userEmail, strings.TrimSpace(description))
}

// parseSubjectDescription pulls "Subject:" and "Description:" lines out
// of a model reply, tolerating missing labels.
func parseSubjectDescription(text string) (string, string) {
	var subject string
	var descLines []string
	for _, line := range strings.Split(text, "\n") {
		raw := strings.TrimSpace(line)
		if raw == "" {
			continue
		}
		lower := strings.ToLower(raw)
		switch {
		case strings.HasPrefix(lower, "subject:"):
			subject = strings.TrimSpace(raw[len("subject:"):])
		case strings.HasPrefix(lower, "description:"):
			if d := strings.TrimSpace(raw[len("description:"):]); d != "" {
				descLines = append(descLines, d)
			}
		case subject == "":
			subject = raw
		default:
			descLines = append(descLines, raw)
		}
	}
	return subject, strings.Join(descLines, " ")
}

type widgetBot struct {
	completer    Completer
	mailer       Mailer
	supportEmail string
}

func newWidgetBot(completer Completer, mailer Mailer, supportEmail string) *widgetBot {
	return &widgetBot{completer: completer, mailer: mailer, supportEmail: supportEmail}
}

func (b *widgetBot) ID() string      { return "widget" }
func (b *widgetBot) Label() string   { return "Help chat" }
func (b *widgetBot) Ephemeral() bool { return true }

// generateEmailContent asks the model to paraphrase the user's issue
// into a subject and short description. Falls back to a mechanical
// subject when the model is unavailable or returns junk.
func (b *widgetBot) generateEmailContent(ctx context.Context, details, lang string) (string, string) {
	res, err := b.completer.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "You format internal support emails. Write in the user's language. " +
			"Paraphrase the user's message; do not copy sentences verbatim. Output two lines only: " +
			"Subject: ... (max 80 chars) Description: ... (2-5 sentences)."},
		{Role: llm.RoleUser, Content: "Issue:\n" + details},
	})
	if err == nil {
		subject, description := parseSubjectDescription(res.Text)
		subject = strings.Join(strings.Fields(subject), " ")
		description = strings.Join(strings.Fields(description), " ")
		if len(subject) > 80 {
			subject = strings.TrimRight(subject[:77], " ") + "..."
		}
		if subject != "" && description != "" {
			return subject, description
		}
	} else {
		slog.Warn("support email paraphrase failed", "error", err)
	}

	clean := strings.Join(strings.Fields(details), " ")
	description := clean
	if description == "" {
		description = pick(lang, "User reported a problem.", "Probleme signale par l'utilisateur.")
	}
	return buildSubject(clean, lang), description
}

// sendSupport drives the support_waiting_details stage: format the
// issue, mail it, and confirm to the user with the outgoing content.
func (b *widgetBot) sendSupport(ctx context.Context, inv Invocation, lang string) Reply {
	details := strings.TrimSpace(inv.Message)
	if details == "" {
		return Reply{
			Text: pick(lang,
				"Please describe the issue so I can send it to support.",
				"Merci de decrire le probleme pour que je puisse transmettre au support."),
			Stage:  StageAwaitingSupportDetail,
			UILang: inv.UILang,
		}
	}

	subject, description := b.generateEmailContent(ctx, details, lang)
	body := buildBody(description, inv.UserEmail, lang)
	err := b.mailer.Send(ctx, subject, body, inv.UserEmail)

	var text string
	if lang == "fr" {
		text = fmt.Sprintf("Merci. Je vais envoyer votre demande au support technique.\n\nObjet: %s\nContenu:\n%s", subject, body)
	} else {
		text = fmt.Sprintf("Thanks. I will send your request to technical support now.\n\nSubject: %s\nBody:\n%s", subject, body)
	}
	if err != nil {
		slog.Warn("support email send failed", "error", err)
		text += "\n\n" + pick(lang,
			fmt.Sprintf("Sorry, sending to support failed. Please contact %s directly.", b.supportEmail),
			fmt.Sprintf("Desole, l'envoi au support a echoue. Veuillez contacter %s directement.", b.supportEmail))
	}
	return Reply{Text: text, Stage: StageIdle, UILang: inv.UILang}
}

// staticReply answers a turn without the model, or returns ok=false
// when the turn should go to the model.
func (b *widgetBot) staticReply(ctx context.Context, inv Invocation) (Reply, bool) {
	lang := detectLanguage(inv.Message)

	if inv.Stage == StageAwaitingSupportDetail {
		return b.sendSupport(ctx, inv, lang), true
	}

	if wantsHumanSupport(inv.Message) {
		return Reply{
			Text: pick(lang,
				"Sure. Please describe the problem you need human support for "+
					"(what you did, what you expected, and any error message). "+
					"I will send it to technical support.",
				"D'accord. Decrivez le probleme pour lequel vous avez besoin d'un support humain "+
					"(ce que vous avez fait, ce que vous attendiez, et tout message d'erreur). "+
					"Je vais l'envoyer au support technique."),
			Stage:  StageAwaitingSupportDetail,
			UILang: inv.UILang,
		}, true
	}
	return Reply{}, false
}

func (b *widgetBot) messages(inv Invocation) []llm.Message {
	msgs := make([]llm.Message, 0, len(inv.History)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: widgetPrompt})
	return append(msgs, inv.History...)
}

func (b *widgetBot) Invoke(ctx context.Context, inv Invocation) (Reply, error) {
	if reply, ok := b.staticReply(ctx, inv); ok {
		return reply, nil
	}
	res, err := b.completer.Complete(ctx, b.messages(inv))
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Text:             res.Text,
		Stage:            StageIdle,
		UILang:           inv.UILang,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
	}, nil
}

func (b *widgetBot) Stream(ctx context.Context, inv Invocation, emit func(string) error) (Reply, error) {
	if reply, ok := b.staticReply(ctx, inv); ok {
		if err := emit(reply.Text); err != nil {
			return Reply{}, err
		}
		return reply, nil
	}
	res, err := b.completer.Stream(ctx, b.messages(inv), emit)
	return Reply{
		Text:             res.Text,
		Stage:            StageIdle,
		UILang:           inv.UILang,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
	}, err
}
