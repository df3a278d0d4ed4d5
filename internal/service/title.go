package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/coachdesk/coachd/internal/config"
)

// Single filler tokens that never make a title on their own.
var titleStoplist = map[string]bool{
	"hi": true, "hello": true, "salut": true, "hey": true, "yo": true,
	"ok": true, "okay": true, "test": true, "bonjour": true,
}

var titleWordRe = regexp.MustCompile(`[a-zà-ÿ]{3,}`)

// Closed-class words of the deployment's primary languages, filtered
// out before picking title words.
var titleStopwords = map[string]bool{
	"avec": true, "dans": true, "pour": true, "mon": true, "ma": true, "mes": true,
	"ton": true, "ta": true, "tes": true, "son": true, "sa": true, "ses": true,
	"un": true, "une": true, "le": true, "la": true, "les": true, "des": true,
	"du": true, "de": true, "au": true, "aux": true, "sur": true, "sous": true,
	"par": true, "entre": true, "pendant": true, "depuis": true, "chez": true,
	"vers": true, "à": true, "je": true, "tu": true, "il": true, "elle": true,
	"nous": true, "vous": true, "ils": true, "elles": true, "ce": true,
	"cette": true, "ces": true, "et": true, "ou": true, "mais": true,
	"donc": true, "car": true, "ni": true, "or": true, "que": true, "qui": true,
	"quoi": true, "où": true, "est": true, "sont": true, "suis": true,
	"es": true, "sommes": true, "êtes": true, "ai": true, "as": true, "a": true,
	"avons": true, "avez": true, "ont": true, "très": true, "peu": true,
	"plus": true, "moins": true, "aussi": true, "alors": true, "puis": true,
	"ainsi": true,
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func capitalize(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// meaningfulMessage reports whether a first user message carries enough
// signal to derive a title from. Input must be whitespace-normalized.
func meaningfulMessage(t string) bool {
	if t == "" || len([]rune(t)) < 12 {
		return false
	}
	if len(strings.Split(t, " ")) < 2 {
		return false
	}
	alpha := 0
	for _, r := range t {
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if alpha < 6 {
		return false
	}
	return !titleStoplist[strings.ToLower(t)]
}

func summarizeTitle(t string) string {
	words := titleWordRe.FindAllString(strings.ToLower(t), -1)

	content := words[:0:0]
	for _, w := range words {
		if !titleStopwords[w] {
			content = append(content, w)
		}
	}

	if len(content) < 2 {
		if len(words) == 0 {
			return config.DefaultTitle
		}
		if len(words) > config.TitleMaxWords {
			words = words[:config.TitleMaxWords]
		}
		return capitalize(strings.Join(words, " "))
	}

	if len(content) > config.TitleMaxWords {
		content = content[:config.TitleMaxWords]
	}
	return capitalize(strings.Join(content, " "))
}

// DeriveTitle turns a raw first user message into a short title, or
// the sentinel when the message carries too little signal.
func DeriveTitle(firstUserMessage string) string {
	t := normalizeWhitespace(firstUserMessage)
	if !meaningfulMessage(t) {
		return config.DefaultTitle
	}
	return DisplayTitle(summarizeTitle(t))
}

// UniquifyTitle resolves collisions against the given set of live
// titles by appending " (n)" for the smallest free n >= 2.
func UniquifyTitle(base string, existing []string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = config.DefaultTitle
	}

	taken := make(map[string]bool, len(existing))
	for _, t := range existing {
		if t != "" {
			taken[t] = true
		}
	}
	if !taken[base] {
		return base
	}

	used := map[int]bool{}
	prefix := base + " ("
	for t := range taken {
		if strings.HasPrefix(t, prefix) && strings.HasSuffix(t, ")") {
			if n, err := strconv.Atoi(t[len(prefix) : len(t)-1]); err == nil {
				used[n] = true
			}
		}
	}
	n := 2
	for used[n] {
		n++
	}
	return fmt.Sprintf("%s (%d)", base, n)
}

// DisplayTitle caps a stored title at the display word limit.
func DisplayTitle(title string) string {
	words := strings.Fields(title)
	if len(words) > config.TitleMaxWords {
		return strings.Join(words[:config.TitleMaxWords], " ")
	}
	return title
}
