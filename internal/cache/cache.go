// Package cache keeps a short-lived, per-group memory of completed answers so
// near-duplicate questions within the same hour skip the completion service.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/kalambet/groupmind/internal/similarity"
)

const (
	DefaultSize      = 50
	DefaultTTL       = time.Hour
	DefaultThreshold = 0.8
)

// Policy selects among several entries that clear the similarity threshold.
type Policy int

const (
	// FirstMatch returns the oldest qualifying entry.
	FirstMatch Policy = iota
	// BestMatch returns the qualifying entry with the highest similarity,
	// preferring the older one on equal scores.
	BestMatch
)

// ParsePolicy maps "first" and "best" to a Policy. Anything else is FirstMatch.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), "best") {
		return BestMatch
	}
	return FirstMatch
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Entry is one cached answer.
type Entry struct {
	Query     string
	Answer    string
	CreatedAt time.Time
}

// Options configures an Arena. Zero values fall back to the defaults.
type Options struct {
	Size      int
	TTL       time.Duration
	Threshold float64
	Policy    Policy
	Clock     Clock
}

type groupCache struct {
	mu      sync.Mutex
	entries []Entry
}

// Arena owns one independently locked cache per group.
type Arena struct {
	size      int
	ttl       time.Duration
	threshold float64
	policy    Policy
	clock     Clock

	mu     sync.RWMutex
	groups map[int64]*groupCache
}

// New creates an Arena.
func New(opts Options) *Arena {
	if opts.Size <= 0 {
		opts.Size = DefaultSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Arena{
		size:      opts.Size,
		ttl:       opts.TTL,
		threshold: opts.Threshold,
		policy:    opts.Policy,
		clock:     opts.Clock,
		groups:    make(map[int64]*groupCache),
	}
}

func (a *Arena) group(groupID int64, create bool) *groupCache {
	a.mu.RLock()
	g, ok := a.groups[groupID]
	a.mu.RUnlock()
	if ok || !create {
		return g
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok = a.groups[groupID]; ok {
		return g
	}
	g = &groupCache{}
	a.groups[groupID] = g
	return g
}

// Put records an answer for query, evicting the oldest entry once the group
// holds more than the configured size.
func (a *Arena) Put(groupID int64, query, answer string) {
	g := a.group(groupID, true)
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entries = append(g.entries, Entry{
		Query:     strings.ToLower(query),
		Answer:    answer,
		CreatedAt: a.clock.Now(),
	})
	if over := len(g.entries) - a.size; over > 0 {
		g.entries = append(g.entries[:0:0], g.entries[over:]...)
	}
}

// Get returns a cached answer whose query is similar enough to query and
// younger than the TTL.
func (a *Arena) Get(groupID int64, query string) (string, bool) {
	g := a.group(groupID, false)
	if g == nil {
		return "", false
	}
	q := strings.ToLower(query)
	now := a.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	best := -1
	bestScore := 0.0
	for i, e := range g.entries {
		if now.Sub(e.CreatedAt) >= a.ttl {
			continue
		}
		score := similarity.Ratio(q, e.Query)
		if score <= a.threshold {
			continue
		}
		if a.policy == FirstMatch {
			return e.Answer, true
		}
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return "", false
	}
	return g.entries[best].Answer, true
}

// Len reports how many entries a group holds, expired ones included.
func (a *Arena) Len(groupID int64) int {
	g := a.group(groupID, false)
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Clear drops every cached answer for a group.
func (a *Arena) Clear(groupID int64) {
	a.mu.Lock()
	delete(a.groups, groupID)
	a.mu.Unlock()
}
