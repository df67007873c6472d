// Package setup implements the multi-turn dialogue that captures a group's
// configuration from an admin's free-text answers.
package setup

import (
	"fmt"
	"strings"

	"github.com/kalambet/groupmind/internal/trigger"
)

// Step is a position in the setup dialogue.
type Step int

const (
	StepPurpose Step = iota + 1
	StepTone
	StepRules
	StepTriggers
	StepComplete
)

var stepNames = map[Step]string{
	StepPurpose:  "purpose",
	StepTone:     "tone",
	StepRules:    "rules",
	StepTriggers: "triggers",
	StepComplete: "complete",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("step(%d)", int(s))
}

// ParseStep converts a persisted step name back into a Step.
func ParseStep(name string) (Step, error) {
	for s, n := range stepNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown setup step %q", name)
}

// Partial holds the answers collected so far.
type Partial struct {
	Purpose  string   `json:"purpose,omitempty"`
	Tone     string   `json:"tone,omitempty"`
	Rules    []string `json:"rules,omitempty"`
	Triggers []string `json:"triggers,omitempty"`
}

// InputError reports an answer that cannot be accepted at the current step.
// The session does not advance.
type InputError struct {
	Step Step
	Hint string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid answer for %s: %s", e.Step, e.Hint)
}

// Prompt returns the question asked at a step.
func Prompt(s Step) string {
	switch s {
	case StepPurpose:
		return "What is this group about? Describe its purpose in a sentence or two."
	case StepTone:
		return "What tone should I use when replying? (e.g. friendly, formal, playful)"
	case StepRules:
		return "List the group rules, separated by commas. Send \"none\" if there are no rules."
	case StepTriggers:
		return "Which keywords should make me reply? Separate them with commas, or send \"all\" to answer every question."
	case StepComplete:
		return "Setup complete! I'm ready to help in the group."
	}
	return ""
}

// Apply is the transition function of the dialogue: it consumes one answer
// and returns the next step with the updated partial configuration, or an
// *InputError leaving both unchanged. It is defined for every step.
func Apply(step Step, p Partial, text string) (Step, Partial, error) {
	text = strings.TrimSpace(text)
	if text == "" && step != StepComplete {
		return step, p, &InputError{Step: step, Hint: "please send a non-empty answer"}
	}

	switch step {
	case StepPurpose:
		p.Purpose = text
		return StepTone, p, nil
	case StepTone:
		p.Tone = text
		return StepRules, p, nil
	case StepRules:
		if strings.EqualFold(text, "none") {
			p.Rules = []string{}
			return StepTriggers, p, nil
		}
		rules := splitList(text)
		if len(rules) == 0 {
			return step, p, &InputError{Step: step, Hint: "send rules separated by commas, or \"none\""}
		}
		p.Rules = rules
		return StepTriggers, p, nil
	case StepTriggers:
		if strings.EqualFold(text, trigger.AllQuestions) {
			p.Triggers = []string{trigger.AllQuestions}
			return StepComplete, p, nil
		}
		triggers := splitList(text)
		if len(triggers) == 0 {
			return step, p, &InputError{Step: step, Hint: "send keywords separated by commas, or \"all\""}
		}
		p.Triggers = triggers
		return StepComplete, p, nil
	case StepComplete:
		return step, p, &InputError{Step: step, Hint: "setup is already complete"}
	}
	return step, p, &InputError{Step: step, Hint: "unknown step"}
}

func splitList(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
