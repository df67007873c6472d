package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestArena(policy Policy) (*Arena, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(Options{Policy: policy, Clock: clock}), clock
}

func TestGet_FuzzyHit(t *testing.T) {
	a, _ := newTestArena(FirstMatch)
	a.Put(1, "When is the next meetup?", "Friday at 7pm")

	got, ok := a.Get(1, "when is the next meetup")
	if !ok {
		t.Fatal("expected cache hit for near-duplicate query")
	}
	if got != "Friday at 7pm" {
		t.Errorf("answer = %q, want %q", got, "Friday at 7pm")
	}
}

func TestGet_Miss(t *testing.T) {
	a, _ := newTestArena(FirstMatch)
	a.Put(1, "When is the next meetup?", "Friday at 7pm")

	if _, ok := a.Get(1, "what are the rules"); ok {
		t.Error("expected miss for unrelated query")
	}
	if _, ok := a.Get(2, "When is the next meetup?"); ok {
		t.Error("expected miss for a different group")
	}
}

func TestGet_ExpiresAfterTTL(t *testing.T) {
	a, clock := newTestArena(FirstMatch)
	a.Put(1, "where is the wiki", "https://wiki.example")

	clock.Advance(59 * time.Minute)
	if _, ok := a.Get(1, "where is the wiki"); !ok {
		t.Fatal("expected hit before TTL")
	}

	clock.Advance(time.Minute)
	if _, ok := a.Get(1, "where is the wiki"); ok {
		t.Error("entry older than 1h must not be returned, even for identical text")
	}
}

func TestPut_BoundedFIFO(t *testing.T) {
	a, _ := newTestArena(FirstMatch)
	for i := 1; i <= 51; i++ {
		a.Put(1, fmt.Sprintf("%03d", i), fmt.Sprintf("answer %d", i))
	}

	if n := a.Len(1); n != 50 {
		t.Fatalf("Len = %d, want 50", n)
	}
	if got, ok := a.Get(1, "001"); ok {
		t.Errorf("oldest entry should have been evicted, got %q", got)
	}
	if got, ok := a.Get(1, "051"); !ok || got != "answer 51" {
		t.Errorf("Get(051) = %q, %v; want %q, true", got, ok, "answer 51")
	}
	if got, ok := a.Get(1, "002"); !ok || got != "answer 2" {
		t.Errorf("Get(002) = %q, %v; want %q, true", got, ok, "answer 2")
	}
}

func TestGet_FirstMatchPrefersOldest(t *testing.T) {
	a, clock := newTestArena(FirstMatch)
	a.Put(1, "how do i join the server", "old answer")
	clock.Advance(time.Minute)
	a.Put(1, "how do i join the server?", "new answer")

	got, _ := a.Get(1, "how do i join the server?")
	if got != "old answer" {
		t.Errorf("FirstMatch answer = %q, want %q", got, "old answer")
	}
}

func TestGet_BestMatchPrefersClosest(t *testing.T) {
	a, clock := newTestArena(BestMatch)
	a.Put(1, "how do i join the server", "old answer")
	clock.Advance(time.Minute)
	a.Put(1, "how do i join the server?", "new answer")

	got, _ := a.Get(1, "how do i join the server?")
	if got != "new answer" {
		t.Errorf("BestMatch answer = %q, want %q", got, "new answer")
	}
}

func TestClear(t *testing.T) {
	a, _ := newTestArena(FirstMatch)
	a.Put(1, "q", "a")
	a.Clear(1)
	if a.Len(1) != 0 {
		t.Error("Clear left entries behind")
	}
}

func TestParsePolicy(t *testing.T) {
	if ParsePolicy("best") != BestMatch || ParsePolicy("BEST ") != BestMatch {
		t.Error("expected BestMatch")
	}
	if ParsePolicy("first") != FirstMatch || ParsePolicy("") != FirstMatch {
		t.Error("expected FirstMatch")
	}
}

func TestConcurrentGroups(t *testing.T) {
	a, _ := newTestArena(FirstMatch)
	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func(group int64) {
			defer wg.Done()
			for i := range 100 {
				a.Put(group, fmt.Sprintf("q%d", i), "a")
				a.Get(group, "q1")
			}
		}(int64(g))
	}
	wg.Wait()
	for g := range 8 {
		if n := a.Len(int64(g)); n != 50 {
			t.Errorf("group %d Len = %d, want 50", g, n)
		}
	}
}
