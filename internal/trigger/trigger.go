// Package trigger decides whether an incoming group message should get a reply.
package trigger

import "strings"

// AllQuestions is the trigger sentinel meaning "answer any question".
const AllQuestions = "all"

// Reason explains why a message did or did not trigger a reply.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonMention  Reason = "mention"
	ReasonReply    Reason = "reply"
	ReasonQuestion Reason = "question"
	ReasonKeyword  Reason = "keyword"
)

// Message is the part of an inbound group message the evaluator looks at.
type Message struct {
	Text       string
	ReplyToBot bool
}

// Config is the part of a group's configuration the evaluator looks at.
type Config struct {
	BotHandle string // without the leading "@"
	Triggers  []string
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Respond bool
	Reason  Reason
	Keyword string
}

// IsAll reports whether triggers is the "respond to all questions" sentinel.
func IsAll(triggers []string) bool {
	return len(triggers) == 1 && strings.EqualFold(triggers[0], AllQuestions)
}

// Evaluate applies the trigger rules in order. Mention and reply-to-bot are
// checked first and ignore the configured triggers.
// Gating on setup completion and pause state is the caller's job.
func Evaluate(msg Message, cfg Config) Decision {
	lower := strings.ToLower(msg.Text)

	if MentionsBot(msg.Text, cfg.BotHandle) {
		return Decision{Respond: true, Reason: ReasonMention}
	}
	if msg.ReplyToBot {
		return Decision{Respond: true, Reason: ReasonReply}
	}
	if IsAll(cfg.Triggers) {
		if strings.Contains(msg.Text, "?") {
			return Decision{Respond: true, Reason: ReasonQuestion}
		}
		return Decision{}
	}
	for _, kw := range cfg.Triggers {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(lower, kw) {
			return Decision{Respond: true, Reason: ReasonKeyword, Keyword: kw}
		}
	}
	return Decision{}
}

// MentionsBot reports whether text contains "@handle" as a whole mention,
// case-insensitively. "@handle_admin" or "me@handle.org" do not count.
func MentionsBot(text, handle string) bool {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return false
	}
	return findMention(text, "@"+handle) >= 0
}

// StripMention removes "@handle" mentions from text so the remaining
// question can be matched against knowledge and cache.
func StripMention(text, handle string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return strings.TrimSpace(text)
	}
	needle := "@" + handle
	var b strings.Builder
	rest := text
	for {
		i := findMention(rest, needle)
		if i < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:i])
		rest = rest[i+len(needle):]
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// findMention returns the byte offset of the first whole-word,
// case-insensitive occurrence of needle in text, or -1.
func findMention(text, needle string) int {
	for from := 0; from+len(needle) <= len(text); {
		i := strings.IndexByte(text[from:], '@')
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(needle)
		if end <= len(text) && strings.EqualFold(text[i:end], needle) &&
			(i == 0 || !isHandleByte(text[i-1])) &&
			(end == len(text) || !isHandleByte(text[end])) {
			return i
		}
		from = i + 1
	}
	return -1
}

// isHandleByte reports whether c can appear in a Telegram username.
func isHandleByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
