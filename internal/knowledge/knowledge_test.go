package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/kalambet/groupmind/internal/storage"
)

var ctx = context.Background()

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestService(t *testing.T) (*Service, *storage.Store) {
	t.Helper()
	store := openTestStore(t)
	return NewService(store), store
}

func TestTeach_UpsertResetsConfidence(t *testing.T) {
	svc, store := newTestService(t)

	e, err := svc.Teach(ctx, 1, "Where is the wiki?", "wiki.example.com", storage.SourceManual)
	if err != nil {
		t.Fatalf("Teach: %v", err)
	}
	if err := store.SetConfidence(e.ID, 0.2); err != nil {
		t.Fatal(err)
	}

	e2, err := svc.Teach(ctx, 1, "where is the WIKI?", "docs.example.com", storage.SourceManual)
	if err != nil {
		t.Fatalf("Teach: %v", err)
	}

	entries, _ := svc.List(ctx, 1)
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if e2.Confidence != 1.0 || e2.Answer != "docs.example.com" {
		t.Errorf("entry after re-teach = %+v", e2)
	}
}

func TestTeach_RejectsEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Teach(ctx, 1, "  ", "a", ""); !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
	if _, err := svc.Teach(ctx, 1, "q", "", ""); !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestTeach_DefaultSource(t *testing.T) {
	svc, _ := newTestService(t)
	e, err := svc.Teach(ctx, 1, "q", "a", "")
	if err != nil {
		t.Fatal(err)
	}
	if e.Source != storage.SourceDefault {
		t.Errorf("Source = %q, want %q", e.Source, storage.SourceDefault)
	}
}

func TestTeach_ConcurrentSameQuestion(t *testing.T) {
	svc, _ := newTestService(t)
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := svc.Teach(ctx, 1, "Rules?", fmt.Sprintf("answer %d", i), storage.SourceManual); err != nil {
				t.Errorf("Teach: %v", err)
			}
		}(i)
	}
	wg.Wait()

	entries, _ := svc.List(ctx, 1)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want exactly 1", len(entries))
	}
}

func TestRetrieve_Exact(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Teach(ctx, 1, "What are the rules?", "Be kind", storage.SourceManual)

	got, err := svc.Retrieve(ctx, 1, "WHAT ARE THE RULES?")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got == nil || got.Answer != "Be kind" {
		t.Fatalf("Retrieve = %+v, want Be kind", got)
	}
}

func TestRetrieve_SubstringFallback(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Teach(ctx, 1, "meetup", "Fridays at 7pm", storage.SourceManual)

	got, err := svc.Retrieve(ctx, 1, "hey, when is the next Meetup happening")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Answer != "Fridays at 7pm" {
		t.Errorf("Retrieve = %+v, want meetup entry", got)
	}
}

func TestRetrieve_FragmentOfQuestionDoesNotMatch(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Teach(ctx, 1, "Which channel is for hiring posts?", "#jobs", storage.SourceManual)

	for _, q := range []string{"hi", "channel", "which"} {
		if got, err := svc.Retrieve(ctx, 1, q); err != nil || got != nil {
			t.Errorf("Retrieve(%q) = %+v, %v; want nil, nil", q, got, err)
		}
	}
}

func TestRetrieve_FuzzyPrefersConfidenceThenRecency(t *testing.T) {
	svc, store := newTestService(t)
	low, _ := svc.Teach(ctx, 1, "rules", "low", storage.SourceManual)
	high, _ := svc.Teach(ctx, 1, "server rules", "high", storage.SourceManual)
	store.SetConfidence(low.ID, 0.6)
	store.SetConfidence(high.ID, 0.9)

	got, _ := svc.Retrieve(ctx, 1, "what are the server rules here")
	if got == nil || got.ID != high.ID {
		t.Fatalf("Retrieve = %+v, want highest confidence entry", got)
	}

	store.SetConfidence(high.ID, 0.6)
	newer, _ := svc.Teach(ctx, 1, "the server rules", "newest", storage.SourceManual)
	store.SetConfidence(newer.ID, 0.6)

	got, _ = svc.Retrieve(ctx, 1, "what are the server rules here")
	if got == nil || got.ID != newer.ID {
		t.Errorf("Retrieve = %+v, want most recently taught on tie", got)
	}
}

func TestRetrieve_DormantEntriesHidden(t *testing.T) {
	svc, store := newTestService(t)
	e, _ := svc.Teach(ctx, 1, "faq", "see pinned", storage.SourceManual)
	store.SetConfidence(e.ID, 0.5)

	if got, _ := svc.Retrieve(ctx, 1, "faq"); got != nil {
		t.Errorf("entry at 0.5 must not be retrievable, got %+v", got)
	}
	if got, _ := svc.Retrieve(ctx, 1, "where is the faq"); got != nil {
		t.Errorf("entry at 0.5 must not be retrievable by fuzzy path, got %+v", got)
	}

	// Still stored.
	if _, err := svc.Get(ctx, e.ID); err != nil {
		t.Errorf("dormant entry was deleted: %v", err)
	}

	// Re-teaching reactivates it.
	svc.Teach(ctx, 1, "FAQ", "see pinned", storage.SourceManual)
	if got, _ := svc.Retrieve(ctx, 1, "faq"); got == nil {
		t.Error("re-taught entry should be retrievable")
	}
}

func TestRetrieve_HysteresisBand(t *testing.T) {
	svc, store := newTestService(t)
	e, _ := svc.Teach(ctx, 1, "faq", "see pinned", storage.SourceManual)
	store.SetConfidence(e.ID, 0.7)

	got, _ := svc.Retrieve(ctx, 1, "faq")
	if got == nil {
		t.Fatal("entry at 0.7 should be retrievable")
	}
	if Trusted(*got) {
		t.Error("entry at 0.7 must not be trusted for autonomous replies")
	}
	if !Trusted(storage.KnowledgeEntry{Confidence: 0.71}) {
		t.Error("entry at 0.71 should be trusted")
	}
}

func TestRetrieve_NoMatch(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Teach(ctx, 1, "deploy process", "use the pipeline", storage.SourceManual)

	got, err := svc.Retrieve(ctx, 1, "favourite pizza topping")
	if err != nil || got != nil {
		t.Errorf("Retrieve = %+v, %v; want nil, nil", got, err)
	}
	got, err = svc.Retrieve(ctx, 2, "deploy process")
	if err != nil || got != nil {
		t.Errorf("other group Retrieve = %+v, %v; want nil, nil", got, err)
	}
}

func TestFeedback_AdjustsAndNeverDeletes(t *testing.T) {
	svc, _ := newTestService(t)
	e, _ := svc.Teach(ctx, 1, "q", "a", storage.SourceManual)

	got, err := svc.Feedback(ctx, e.ID, false)
	if err != nil {
		t.Fatalf("Feedback: %v", err)
	}
	if math.Abs(got.Confidence-0.85) > 1e-9 {
		t.Errorf("Confidence = %v, want 0.85", got.Confidence)
	}

	for range 20 {
		got, err = svc.Feedback(ctx, e.ID, false)
		if err != nil {
			t.Fatal(err)
		}
	}
	if got.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", got.Confidence)
	}
	if _, err := svc.Get(ctx, e.ID); err != nil {
		t.Errorf("entry deleted at confidence 0: %v", err)
	}

	if _, err := svc.Feedback(ctx, 9999, true); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Feedback(missing) err = %v, want ErrNotFound", err)
	}
}

func TestForget(t *testing.T) {
	svc, _ := newTestService(t)
	svc.Teach(ctx, 1, "Is SPAM allowed?", "No", storage.SourceManual)
	svc.Teach(ctx, 1, "What gets you banned?", "Posting spam links", storage.SourceManual)
	keep, _ := svc.Teach(ctx, 1, "Where is the wiki?", "wiki.example.com", storage.SourceManual)
	other, _ := svc.Teach(ctx, 2, "spam policy", "strict", storage.SourceManual)

	n, err := svc.Forget(ctx, 1, "spam")
	if err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if n != 2 {
		t.Errorf("Forget removed %d, want 2", n)
	}

	entries, _ := svc.List(ctx, 1)
	if len(entries) != 1 || entries[0].ID != keep.ID {
		t.Errorf("remaining entries = %+v, want only the wiki entry", entries)
	}
	if _, err := svc.Get(ctx, other.ID); err != nil {
		t.Errorf("other group's entry must survive: %v", err)
	}

	if _, err := svc.Forget(ctx, 1, " "); !errors.Is(err, ErrEmpty) {
		t.Errorf("Forget(blank) err = %v, want ErrEmpty", err)
	}
}

type failingUsageStore struct {
	*storage.Store
}

func (failingUsageStore) RecordKnowledgeUsage(int64) error {
	return errors.New("disk full")
}

func TestRecordUsage_SwallowsErrors(t *testing.T) {
	store := openTestStore(t)
	svc := NewService(failingUsageStore{store})
	// Must not panic or propagate.
	svc.RecordUsage(ctx, 1)
}

func TestRecordUsage(t *testing.T) {
	svc, _ := newTestService(t)
	e, _ := svc.Teach(ctx, 1, "q", "a", storage.SourceManual)
	svc.RecordUsage(ctx, e.ID)
	svc.RecordUsage(ctx, e.ID)

	got, _ := svc.Get(ctx, e.ID)
	if got.UsageCount != 2 || got.LastUsed == nil {
		t.Errorf("usage not recorded: %+v", got)
	}
}

func TestStats(t *testing.T) {
	svc, store := newTestService(t)
	a, _ := svc.Teach(ctx, 1, "a", "x", storage.SourceManual)
	b, _ := svc.Teach(ctx, 1, "b", "x", storage.SourceManual)
	svc.Teach(ctx, 1, "c", "x", storage.SourceManual)
	store.SetConfidence(a.ID, 0.6)
	store.SetConfidence(b.ID, 0.2)

	st, err := svc.Stats(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 3 || st.Trusted != 1 || st.Dormant != 1 {
		t.Errorf("Stats = %+v", st)
	}
	if math.Abs(st.AvgConfidence-0.6) > 1e-9 {
		t.Errorf("AvgConfidence = %v, want 0.6", st.AvgConfidence)
	}
}
