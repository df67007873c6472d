// Package composer builds the system prompt sent with each completion from a
// group's configuration and any related knowledge the bot is not yet
// confident enough to use on its own.
package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/groupmind/internal/storage"
)

const defaultMaxContextTokens = 1500

// Composer assembles system prompts within a token budget.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected knowledge.
// If maxContextTokens <= 0, the default (1500) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the system prompt for a group. Hints are appended as
// reference material, highest confidence first; hints that do not fit in
// the budget are dropped, lowest confidence first.
func (c *Composer) Compose(g storage.Group, hints []storage.KnowledgeEntry) string {
	var sb strings.Builder

	sb.WriteString("You are a helpful assistant in a group chat")
	if g.Title != "" {
		fmt.Fprintf(&sb, " called %q", g.Title)
	}
	sb.WriteString(".\n")
	if g.Purpose != "" {
		fmt.Fprintf(&sb, "The group is about: %s\n", g.Purpose)
	}
	if g.Tone != "" {
		fmt.Fprintf(&sb, "Reply in this tone: %s\n", g.Tone)
	}
	if len(g.Rules) > 0 {
		sb.WriteString("Group rules:\n")
		for _, r := range g.Rules {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	sb.WriteString("Keep answers short and to the point.")

	if len(hints) == 0 {
		return sb.String()
	}

	sorted := make([]storage.KnowledgeEntry, len(hints))
	copy(sorted, hints)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	header := "\n\n[Possibly relevant answers from this group]\n"
	remaining := c.MaxContextTokens - EstimateTokens(header)

	var selected []string
	for _, h := range sorted {
		entry := formatHint(h)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}

	if len(selected) > 0 {
		sb.WriteString(header)
		for _, entry := range selected {
			sb.WriteString(entry)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatHint(e storage.KnowledgeEntry) string {
	return fmt.Sprintf("Q: %s\nA: %s\n\n", e.Question, e.Answer)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
