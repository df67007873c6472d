// Package knowledge stores taught question/answer pairs per group and
// retrieves them with an exact match first and a lexical fuzzy fallback.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/groupmind/internal/keylock"
	"github.com/kalambet/groupmind/internal/similarity"
	"github.com/kalambet/groupmind/internal/storage"
)

const (
	// RetrieveThreshold is the confidence an entry must exceed to be returned at all.
	RetrieveThreshold = 0.5
	// TrustThreshold is the confidence an entry must exceed to be used as an
	// autonomous reply. Entries between the two thresholds stay retrievable
	// but are not auto-used.
	TrustThreshold = 0.7
	// FuzzyThreshold is the similarity above which a question counts as a
	// near-duplicate of the query.
	FuzzyThreshold = 0.8
)

// ErrEmpty is returned when a question or answer is blank.
var ErrEmpty = errors.New("question and answer must not be empty")

// Store defines the persistence operations the Service needs.
// Implemented by storage.Store.
type Store interface {
	UpsertKnowledge(groupID int64, question, answer, source string) (storage.KnowledgeEntry, error)
	FindKnowledge(groupID int64, question string) (storage.KnowledgeEntry, error)
	GetKnowledge(id int64) (storage.KnowledgeEntry, error)
	ListKnowledge(groupID int64) ([]storage.KnowledgeEntry, error)
	ListKnowledgeAbove(groupID int64, minConfidence float64) ([]storage.KnowledgeEntry, error)
	SetConfidence(id int64, confidence float64) error
	RecordKnowledgeUsage(id int64) error
	DeleteKnowledge(groupID int64, ids []int64) (int, error)
}

// Stats summarizes a group's knowledge base.
type Stats struct {
	Entries       int     `json:"entries"`
	Trusted       int     `json:"trusted"`
	Dormant       int     `json:"dormant"`
	AvgConfidence float64 `json:"avg_confidence"`
	TotalUsage    int     `json:"total_usage"`
}

// Service serializes writes per group and implements retrieval.
type Service struct {
	store  Store
	locks  *keylock.Map[int64]
	logger *slog.Logger
}

// NewService creates a Service backed by store.
func NewService(store Store) *Service {
	return &Service{
		store:  store,
		locks:  keylock.New[int64](),
		logger: slog.Default(),
	}
}

// Trusted reports whether an entry may be used as an autonomous reply.
func Trusted(e storage.KnowledgeEntry) bool {
	return e.Confidence > TrustThreshold
}

// Teach upserts a question/answer pair. Teaching an existing question
// (case-insensitive) replaces its answer and resets confidence to 1.0.
func (s *Service) Teach(ctx context.Context, groupID int64, question, answer, source string) (storage.KnowledgeEntry, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return storage.KnowledgeEntry{}, ErrEmpty
	}
	if source == "" {
		source = storage.SourceDefault
	}

	unlock := s.locks.Lock(groupID)
	defer unlock()

	e, err := s.store.UpsertKnowledge(groupID, question, answer, source)
	if err != nil {
		return storage.KnowledgeEntry{}, fmt.Errorf("teaching %q: %w", question, err)
	}
	s.logger.Debug("knowledge taught", "group_id", groupID, "entry_id", e.ID, "source", source)
	return e, nil
}

// LearnCorrection records an admin's corrected answer for a question.
func (s *Service) LearnCorrection(ctx context.Context, groupID int64, question, answer string) (storage.KnowledgeEntry, error) {
	return s.Teach(ctx, groupID, question, answer, storage.SourceAdmin)
}

// Retrieve finds the best entry for query. It tries an exact case-insensitive
// match first, then falls back to entries whose question is a substring of
// the query or is lexically near it. Only entries above
// RetrieveThreshold are considered; among fuzzy candidates the highest
// confidence wins and ties go to the most recently taught.
// It returns nil, nil when nothing matches.
func (s *Service) Retrieve(ctx context.Context, groupID int64, query string) (*storage.KnowledgeEntry, error) {
	q := storage.QuestionKey(query)
	if q == "" {
		return nil, nil
	}

	e, err := s.store.FindKnowledge(groupID, q)
	switch {
	case err == nil && e.Confidence > RetrieveThreshold:
		return &e, nil
	case err != nil && !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("exact lookup: %w", err)
	}

	candidates, err := s.store.ListKnowledgeAbove(groupID, RetrieveThreshold)
	if err != nil {
		return nil, fmt.Errorf("listing candidates: %w", err)
	}

	var best *storage.KnowledgeEntry
	for i := range candidates {
		c := &candidates[i]
		if !fuzzyMatch(q, storage.QuestionKey(c.Question)) {
			continue
		}
		if best == nil || betterCandidate(c, best) {
			best = c
		}
	}
	return best, nil
}

func fuzzyMatch(query, question string) bool {
	if question == "" {
		return false
	}
	if strings.Contains(query, question) {
		return true
	}
	return similarity.Ratio(query, question) > FuzzyThreshold
}

func betterCandidate(c, best *storage.KnowledgeEntry) bool {
	if c.Confidence != best.Confidence {
		return c.Confidence > best.Confidence
	}
	if !c.TaughtAt.Equal(best.TaughtAt) {
		return c.TaughtAt.After(best.TaughtAt)
	}
	return c.ID > best.ID
}

// RecordUsage bumps the usage counter of an entry. Failures are logged and
// never reach the caller, since the reply has already been sent.
func (s *Service) RecordUsage(ctx context.Context, entryID int64) {
	if err := s.store.RecordKnowledgeUsage(entryID); err != nil {
		s.logger.Warn("recording knowledge usage failed", "entry_id", entryID, "error", err)
	}
}

// Feedback applies a reaction to an entry's confidence and returns the
// updated entry. Entries are never deleted here, even at confidence 0.
func (s *Service) Feedback(ctx context.Context, entryID int64, positive bool) (storage.KnowledgeEntry, error) {
	e, err := s.store.GetKnowledge(entryID)
	if err != nil {
		return storage.KnowledgeEntry{}, err
	}

	unlock := s.locks.Lock(e.GroupID)
	defer unlock()

	// Re-read under the group lock so concurrent reactions do not lose updates.
	e, err = s.store.GetKnowledge(entryID)
	if err != nil {
		return storage.KnowledgeEntry{}, err
	}
	e.Confidence = AdjustConfidence(e.Confidence, positive)
	if err := s.store.SetConfidence(e.ID, e.Confidence); err != nil {
		return storage.KnowledgeEntry{}, fmt.Errorf("updating confidence: %w", err)
	}
	s.logger.Debug("knowledge feedback applied", "entry_id", e.ID, "positive", positive, "confidence", e.Confidence)
	return e, nil
}

// Forget deletes every entry of the group whose question or answer contains
// keyword (case-insensitive) and returns how many were removed.
func (s *Service) Forget(ctx context.Context, groupID int64, keyword string) (int, error) {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	if kw == "" {
		return 0, ErrEmpty
	}

	unlock := s.locks.Lock(groupID)
	defer unlock()

	entries, err := s.store.ListKnowledge(groupID)
	if err != nil {
		return 0, fmt.Errorf("listing knowledge: %w", err)
	}
	var ids []int64
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Question), kw) || strings.Contains(strings.ToLower(e.Answer), kw) {
			ids = append(ids, e.ID)
		}
	}
	n, err := s.store.DeleteKnowledge(groupID, ids)
	if err != nil {
		return 0, fmt.Errorf("forgetting %q: %w", keyword, err)
	}
	return n, nil
}

// List returns every entry of a group, most recently taught first.
func (s *Service) List(ctx context.Context, groupID int64) ([]storage.KnowledgeEntry, error) {
	return s.store.ListKnowledge(groupID)
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, entryID int64) (storage.KnowledgeEntry, error) {
	return s.store.GetKnowledge(entryID)
}

// Stats aggregates confidence and usage for a group.
func (s *Service) Stats(ctx context.Context, groupID int64) (Stats, error) {
	entries, err := s.store.ListKnowledge(groupID)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	var sum float64
	for _, e := range entries {
		st.Entries++
		sum += e.Confidence
		st.TotalUsage += e.UsageCount
		switch {
		case Trusted(e):
			st.Trusted++
		case e.Confidence <= RetrieveThreshold:
			st.Dormant++
		}
	}
	if st.Entries > 0 {
		st.AvgConfidence = sum / float64(st.Entries)
	}
	return st, nil
}
