// Package command parses slash commands sent to the bot.
//
// Parse is strict: it returns either a complete Command or an error, never a
// partially filled value.
package command

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a command.
type Kind int

const (
	Start Kind = iota + 1
	Help
	Setup
	Cancel
	Teach
	Forget
	Pause
	Resume
	Export
	Stats
	Knowledge
)

var names = map[string]Kind{
	"start":     Start,
	"help":      Help,
	"setup":     Setup,
	"cancel":    Cancel,
	"teach":     Teach,
	"forget":    Forget,
	"pause":     Pause,
	"resume":    Resume,
	"export":    Export,
	"stats":     Stats,
	"knowledge": Knowledge,
}

func (k Kind) String() string {
	for name, kind := range names {
		if kind == k {
			return name
		}
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AdminOnly reports whether the command mutates or exposes group state and
// therefore requires a group administrator.
func (k Kind) AdminOnly() bool {
	switch k {
	case Setup, Teach, Forget, Pause, Resume, Export, Stats:
		return true
	}
	return false
}

var (
	// ErrNotCommand is returned for text that is not a slash command, or a
	// command addressed to another bot.
	ErrNotCommand = errors.New("not a command")
	// ErrUnknown is returned for a slash command the bot does not implement.
	ErrUnknown = errors.New("unknown command")
)

// FormatError reports a known command whose arguments have the wrong shape.
type FormatError struct {
	Kind Kind
	Hint string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("/%s: %s", e.Kind, e.Hint)
}

// Command is a parsed slash command.
type Command struct {
	Kind     Kind
	Question string // Teach
	Answer   string // Teach
	Keyword  string // Forget
}

// Usage lines shown in /help and in format hints.
const (
	TeachUsage  = "/teach question | answer"
	ForgetUsage = "/forget keyword"
)

// Parse parses text as a command. botHandle (without '@') is used to accept
// "/cmd@handle" and to ignore commands addressed to other bots.
func Parse(text, botHandle string) (Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return Command{}, ErrNotCommand
	}

	head, args, _ := strings.Cut(text[1:], " ")
	args = strings.TrimSpace(args)
	if name, target, ok := strings.Cut(head, "@"); ok {
		if !strings.EqualFold(target, botHandle) {
			return Command{}, ErrNotCommand
		}
		head = name
	}

	kind, ok := names[strings.ToLower(head)]
	if !ok {
		return Command{}, fmt.Errorf("%w: /%s", ErrUnknown, head)
	}

	switch kind {
	case Teach:
		q, a, ok := strings.Cut(args, "|")
		q, a = strings.TrimSpace(q), strings.TrimSpace(a)
		if !ok || q == "" || a == "" {
			return Command{}, &FormatError{Kind: kind, Hint: "usage: " + TeachUsage}
		}
		return Command{Kind: kind, Question: q, Answer: a}, nil
	case Forget:
		if args == "" {
			return Command{}, &FormatError{Kind: kind, Hint: "usage: " + ForgetUsage}
		}
		return Command{Kind: kind, Keyword: args}, nil
	}
	return Command{Kind: kind}, nil
}
