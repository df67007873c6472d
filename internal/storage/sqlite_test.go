package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_knowledge_group", "idx_interactions_answer", "idx_interactions_created", "idx_jobs_status_run_after"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestEnsureGroup_KeepsConfig(t *testing.T) {
	s := openTestStore(t)

	g, err := s.EnsureGroup(-100, "Gophers")
	if err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if g.Title != "Gophers" || g.SetupComplete || g.Paused {
		t.Errorf("unexpected fresh group: %+v", g)
	}

	if err := s.FinishSetup(7, -100, "Gaming community", "Friendly", []string{"No spam"}, []string{"all"}); err != nil {
		t.Fatalf("FinishSetup: %v", err)
	}

	g, err = s.EnsureGroup(-100, "")
	if err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	if g.Title != "Gophers" {
		t.Errorf("Title = %q, want it kept", g.Title)
	}
	if !g.SetupComplete || g.Purpose != "Gaming community" {
		t.Errorf("config lost on EnsureGroup: %+v", g)
	}
}

func TestFinishSetup_DeletesSession(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveSession(SetupSession{UserID: 7, GroupID: -100, Step: "triggers", PartialData: `{"purpose":"x"}`}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := s.FinishSetup(7, -100, "x", "y", nil, []string{"deploy", "release"}); err != nil {
		t.Fatalf("FinishSetup: %v", err)
	}

	if _, err := s.GetSession(7); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession after FinishSetup: err = %v, want ErrNotFound", err)
	}
	g, err := s.GetGroup(-100)
	if err != nil {
		t.Fatalf("GetGroup: %v", err)
	}
	if len(g.Rules) != 0 {
		t.Errorf("Rules = %v, want empty", g.Rules)
	}
	if len(g.Triggers) != 2 || g.Triggers[0] != "deploy" || g.Triggers[1] != "release" {
		t.Errorf("Triggers = %v", g.Triggers)
	}
}

func TestSetPaused(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetPaused(1, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetPaused on unknown group: err = %v, want ErrNotFound", err)
	}
	if _, err := s.EnsureGroup(1, "g"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPaused(1, true); err != nil {
		t.Fatalf("SetPaused: %v", err)
	}
	g, _ := s.GetGroup(1)
	if !g.Paused {
		t.Error("group not paused")
	}
}

func TestSessionReplace(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveSession(SetupSession{UserID: 1, GroupID: 10, Step: "tone", PartialData: `{"purpose":"a"}`}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveSession(SetupSession{UserID: 1, GroupID: 20, Step: "purpose"}); err != nil {
		t.Fatal(err)
	}

	sess, err := s.GetSession(1)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.GroupID != 20 || sess.Step != "purpose" || sess.PartialData != "{}" {
		t.Errorf("session not replaced: %+v", sess)
	}
}

func TestUpsertKnowledge_SingleEntryPerQuestion(t *testing.T) {
	s := openTestStore(t)

	first, err := s.UpsertKnowledge(1, "What are the rules?", "Be nice", SourceManual)
	if err != nil {
		t.Fatalf("UpsertKnowledge: %v", err)
	}
	if err := s.SetConfidence(first.ID, 0.3); err != nil {
		t.Fatalf("SetConfidence: %v", err)
	}

	second, err := s.UpsertKnowledge(1, "what are the RULES?", "No spam", SourceAdmin)
	if err != nil {
		t.Fatalf("UpsertKnowledge: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("ID changed on upsert: %d -> %d", first.ID, second.ID)
	}
	if second.Answer != "No spam" || second.Confidence != 1.0 || second.Source != SourceAdmin {
		t.Errorf("upsert did not overwrite: %+v", second)
	}

	all, err := s.ListKnowledge(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("len(ListKnowledge) = %d, want 1", len(all))
	}

	// Same question in another group is a separate entry.
	if _, err := s.UpsertKnowledge(2, "What are the rules?", "Other", SourceManual); err != nil {
		t.Fatal(err)
	}
	if all, _ := s.ListKnowledge(2); len(all) != 1 {
		t.Errorf("group 2 entries = %d, want 1", len(all))
	}
}

func TestRecordKnowledgeUsage(t *testing.T) {
	s := openTestStore(t)
	fixed := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	e, err := s.UpsertKnowledge(1, "q", "a", SourceManual)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordKnowledgeUsage(e.ID); err != nil {
		t.Fatalf("RecordKnowledgeUsage: %v", err)
	}
	got, err := s.GetKnowledge(e.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != 1 {
		t.Errorf("UsageCount = %d, want 1", got.UsageCount)
	}
	if got.LastUsed == nil || !got.LastUsed.Equal(fixed) {
		t.Errorf("LastUsed = %v, want %v", got.LastUsed, fixed)
	}
	if err := s.RecordKnowledgeUsage(9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordKnowledgeUsage(missing) err = %v, want ErrNotFound", err)
	}
}

func TestListKnowledgeAbove(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.UpsertKnowledge(1, "a", "x", SourceManual)
	b, _ := s.UpsertKnowledge(1, "b", "x", SourceManual)
	s.SetConfidence(a.ID, 0.5)
	s.SetConfidence(b.ID, 0.51)

	got, err := s.ListKnowledgeAbove(1, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Errorf("ListKnowledgeAbove = %+v, want only b", got)
	}
}

func TestDeleteKnowledge(t *testing.T) {
	s := openTestStore(t)
	a, _ := s.UpsertKnowledge(1, "a", "x", SourceManual)
	b, _ := s.UpsertKnowledge(1, "b", "x", SourceManual)
	other, _ := s.UpsertKnowledge(2, "c", "x", SourceManual)

	n, err := s.DeleteKnowledge(1, []int64{a.ID, other.ID})
	if err != nil {
		t.Fatalf("DeleteKnowledge: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1 (other group's id must be ignored)", n)
	}
	if _, err := s.GetKnowledge(b.ID); err != nil {
		t.Errorf("b should survive: %v", err)
	}
	if _, err := s.GetKnowledge(other.ID); err != nil {
		t.Errorf("other group's entry should survive: %v", err)
	}
}

func TestInteractionFeedbackOnce(t *testing.T) {
	s := openTestStore(t)

	ix := Interaction{ID: "ix-1", GroupID: 1, Question: "q", Answer: "a", Source: InteractionAI, QuestionMsgID: 10, AnswerMsgID: 11}
	if err := s.SaveInteraction(ix); err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	got, err := s.GetInteractionByAnswer(1, 11)
	if err != nil {
		t.Fatalf("GetInteractionByAnswer: %v", err)
	}
	if got.ID != "ix-1" || got.Feedback != 0 {
		t.Errorf("unexpected interaction: %+v", got)
	}

	if err := s.SetInteractionFeedback("ix-1", 1); err != nil {
		t.Fatalf("SetInteractionFeedback: %v", err)
	}
	if err := s.SetInteractionFeedback("ix-1", -1); !errors.Is(err, ErrFeedbackRecorded) {
		t.Errorf("second feedback err = %v, want ErrFeedbackRecorded", err)
	}
	if err := s.SetInteractionFeedback("missing", 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("feedback on missing err = %v, want ErrNotFound", err)
	}

	got, _ = s.GetInteraction("ix-1")
	if got.Feedback != 1 {
		t.Errorf("Feedback = %d, want 1", got.Feedback)
	}
}

func TestInteractionStats(t *testing.T) {
	s := openTestStore(t)
	for i, src := range []string{InteractionAI, InteractionAI, "knowledge:3", InteractionCache} {
		ix := Interaction{ID: string(rune('a' + i)), GroupID: 1, Question: "q", Answer: "a", Source: src}
		if err := s.SaveInteraction(ix); err != nil {
			t.Fatal(err)
		}
	}
	s.SetInteractionFeedback("a", 1)
	s.SetInteractionFeedback("c", -1)

	stats, err := s.GetInteractionStats(1)
	if err != nil {
		t.Fatalf("GetInteractionStats: %v", err)
	}
	if stats.Total != 4 || stats.Positive != 1 || stats.Negative != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.BySource["ai"] != 2 || stats.BySource["knowledge"] != 1 || stats.BySource["cache"] != 1 {
		t.Errorf("BySource = %v", stats.BySource)
	}
}

func TestJobs_ClaimCompleteFail(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j1", Type: "learn_correction", PayloadJSON: "{}", MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob([]string{"other"})
	if err != nil || job != nil {
		t.Fatalf("ClaimNextJob(other) = %v, %v; want nil, nil", job, err)
	}

	job, err = s.ClaimNextJob([]string{"learn_correction"})
	if err != nil || job == nil {
		t.Fatalf("ClaimNextJob = %v, %v", job, err)
	}
	if job.Status != "running" {
		t.Errorf("Status = %q, want running", job.Status)
	}

	if again, _ := s.ClaimNextJob([]string{"learn_correction"}); again != nil {
		t.Error("running job claimed twice")
	}

	if err := s.FailJob("j1", "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, _ := s.GetJob("j1")
	if j.Status != "pending" || j.Attempts != 1 || j.LastError != "boom" {
		t.Errorf("after first failure: %+v", j)
	}

	if err := s.FailJob("j1", "boom again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	j, _ = s.GetJob("j1")
	if j.Status != "failed" {
		t.Errorf("Status = %q, want failed after max attempts", j.Status)
	}

	if err := s.CompleteJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob(missing) err = %v", err)
	}
}

func TestKnowledgeSource(t *testing.T) {
	src := KnowledgeSource(42)
	if src != "knowledge:42" {
		t.Errorf("KnowledgeSource(42) = %q", src)
	}
	if id, ok := ParseKnowledgeSource(src); !ok || id != 42 {
		t.Errorf("ParseKnowledgeSource(%q) = %d, %v", src, id, ok)
	}
	for _, bad := range []string{"ai", "cache", "knowledge:", "knowledge:x"} {
		if _, ok := ParseKnowledgeSource(bad); ok {
			t.Errorf("ParseKnowledgeSource(%q) should fail", bad)
		}
	}
}
