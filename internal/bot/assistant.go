package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/coachdesk/coachd/internal/llm"
)

const langMenu = `Please select your preferred language.
1- English
2- Français
3- 中文
4- Español
5- Deutsch
6- हिन्दी`

var langMap = map[string]string{
	"1":        "English",
	"2":        "Français",
	"3":        "中文",
	"4":        "Español",
	"5":        "Deutsch",
	"6":        "हिन्दी",
	"english":  "English",
	"français": "Français",
	"francais": "Français",
	"中文":       "中文",
	"español":  "Español",
	"espanol":  "Español",
	"deutsch":  "Deutsch",
	"हिन्दी":   "हिन्दी",
	"hindi":    "हिन्दी",
}

func matchLanguage(input string) (string, bool) {
	lang, ok := langMap[strings.ToLower(strings.TrimSpace(input))]
	return lang, ok
}

const operationalRules = `## Global Operational Rules

- Never expose raw error text or internal system/tool messages.
- If an action produces an unclear or failed result: apologize briefly,
  reformulate the request once in a simpler way, then proceed with a
  best-effort explanation without mentioning the failure.
- Keep prompts concise, professional, and limited to one request per turn.
- No emojis.

## Module Content Rules

The module content below is the only source of coaching material.
- NEVER invent, extrapolate, or assume missing content.
- Apply ONLY the instructions explicitly present in the loaded content.
- Follow the module steps exactly as defined, in order, without skipping
  or merging steps, until the module reaches its explicit end state.
- Ask the user for clarification if any required information is missing.
- At the end of the module, summarize key takeaways.`

type assistantSpec struct {
	id      string
	label   string
	persona string
	// greet is the product name slotted into the welcome line.
	greet   string
	docFile string
}

var assistantSpecs = []assistantSpec{
	{
		id:    "personal",
		label: "Personal Problems Assistant",
		persona: "The assistant is an internal professional coaching system dedicated to helping employees " +
			"clarify what is blocking them at work, identify root causes through structured questioning, " +
			"explore practical and sustainable solution options, and commit to one or two concrete actions with follow-up.",
		greet:   "INTERNAL PROFESSIONAL COACH",
		docFile: "personal_problems.html",
	},
	{
		id:    "formalization",
		label: "Problem Formalization Assistant",
		persona: "The assistant is a modular digital coaching system for problem formalization: it helps the user " +
			"structure a problem, surface root causes, describe impacts, and define action steps through a guided workflow. " +
			"In synthesis sections, use neutral narrative language and avoid directly addressing the user.",
		greet:   "Digital Coach assistant",
		docFile: "problem_formalization.html",
	},
	{
		id:    "training",
		label: "Generic Training Assistant",
		persona: "The assistant is a professional trainer specialized in the transmission of industrial knowledge. " +
			"Adapt delivery to maximize understanding, retention, and practical application. Before running the module, " +
			"display its contextual description, ask \"Do you want to continue?\", and wait for a positive confirmation.",
		greet:   "PROFESSIONAL TRAINER",
		docFile: "generic_training.html",
	},
	{
		id:    "product",
		label: "Product and Product Lines Assistant",
		persona: "The assistant is a modular digital coaching system covering products and product lines only: " +
			"product strategy, product knowledge, and product line details from the loaded module.",
		greet:   "Digital Coach assistant",
		docFile: "product_line_exploration.html",
	},
	{
		id:    "email",
		label: "Write Email Assistant",
		persona: "The assistant is a modular email coaching system dedicated to helping employees draft professional, " +
			"efficient emails, structured for clarity, accountability, and fast decision-making.",
		greet:   "Email Coach assistant",
		docFile: "write_mail.html",
	},
}

type assistantBot struct {
	spec      assistantSpec
	prompt    string
	completer Completer
}

func newAssistantBot(spec assistantSpec, docText string, completer Completer) *assistantBot {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s — SYSTEM INSTRUCTIONS\n\n%s\n\n%s", strings.ToUpper(spec.label), spec.persona, operationalRules)
	if docText != "" {
		fmt.Fprintf(&b, "\n\n## LOADED MODULE CONTENT\n\n%s", docText)
	}
	return &assistantBot{spec: spec, prompt: b.String(), completer: completer}
}

func (b *assistantBot) ID() string      { return b.spec.id }
func (b *assistantBot) Label() string   { return b.spec.label }
func (b *assistantBot) Ephemeral() bool { return false }

// messages assembles the model transcript: the bot's system prompt,
// a per-turn language directive, then the conversation history (which
// already ends with the current user message).
func (b *assistantBot) messages(inv Invocation, lang string, justSelected bool) []llm.Message {
	system := b.prompt
	if lang != "" {
		system += fmt.Sprintf("\n\n## Language\n\nThe user's selected language is %s. "+
			"All communication MUST be delivered exclusively in %s, without switching language.", lang, lang)
	}
	if justSelected {
		system += fmt.Sprintf("\n\nThe user has just selected their language. Greet them with "+
			"\"Welcome in your %s.\" translated to %s, then present the module's purpose and ask "+
			"\"Do you want to continue?\" before proceeding.", b.spec.greet, lang)
	}
	msgs := make([]llm.Message, 0, len(inv.History)+1)
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: system})
	return append(msgs, inv.History...)
}

func (b *assistantBot) uiLang(inv Invocation) string {
	if inv.UILang != nil {
		return *inv.UILang
	}
	return ""
}

func (b *assistantBot) Invoke(ctx context.Context, inv Invocation) (Reply, error) {
	if inv.Stage == StageSelectLang {
		lang, ok := matchLanguage(inv.Message)
		if !ok {
			return Reply{Text: langMenu, Stage: StageSelectLang, UILang: inv.UILang}, nil
		}
		res, err := b.completer.Complete(ctx, b.messages(inv, lang, true))
		if err != nil {
			return Reply{}, err
		}
		return Reply{
			Text:             res.Text,
			Stage:            StageIdle,
			UILang:           &lang,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
		}, nil
	}

	res, err := b.completer.Complete(ctx, b.messages(inv, b.uiLang(inv), false))
	if err != nil {
		return Reply{}, err
	}
	return Reply{
		Text:             res.Text,
		Stage:            inv.Stage,
		UILang:           inv.UILang,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
	}, nil
}

func (b *assistantBot) Stream(ctx context.Context, inv Invocation, emit func(string) error) (Reply, error) {
	if inv.Stage == StageSelectLang {
		lang, ok := matchLanguage(inv.Message)
		if !ok {
			if err := emit(langMenu); err != nil {
				return Reply{}, err
			}
			return Reply{Text: langMenu, Stage: StageSelectLang, UILang: inv.UILang}, nil
		}
		res, err := b.completer.Stream(ctx, b.messages(inv, lang, true), emit)
		reply := Reply{
			Text:             res.Text,
			Stage:            StageIdle,
			UILang:           &lang,
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
		}
		return reply, err
	}

	res, err := b.completer.Stream(ctx, b.messages(inv, b.uiLang(inv), false), emit)
	return Reply{
		Text:             res.Text,
		Stage:            inv.Stage,
		UILang:           inv.UILang,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
	}, err
}
