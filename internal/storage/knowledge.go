package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const knowledgeColumns = `id, group_id, question, answer, confidence, source, usage_count, last_used, created_at, taught_at`

// QuestionKey is the uniqueness key for a question: trimmed and case-folded.
func QuestionKey(question string) string {
	return strings.ToLower(strings.TrimSpace(question))
}

func scanKnowledge(row rowScanner) (KnowledgeEntry, error) {
	var (
		e                   KnowledgeEntry
		lastUsed            sql.NullString
		createdAt, taughtAt string
	)
	if err := row.Scan(&e.ID, &e.GroupID, &e.Question, &e.Answer, &e.Confidence, &e.Source,
		&e.UsageCount, &lastUsed, &createdAt, &taughtAt); err != nil {
		return KnowledgeEntry{}, err
	}
	var err error
	if lastUsed.Valid {
		t, err := parseTime(lastUsed.String)
		if err != nil {
			return KnowledgeEntry{}, err
		}
		e.LastUsed = &t
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return KnowledgeEntry{}, err
	}
	if e.TaughtAt, err = parseTime(taughtAt); err != nil {
		return KnowledgeEntry{}, err
	}
	return e, nil
}

func (s *Store) queryKnowledge(query string, args ...any) ([]KnowledgeEntry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []KnowledgeEntry
	for rows.Next() {
		e, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertKnowledge stores a question/answer pair. Re-teaching a question
// (case-insensitive) overwrites the answer, resets confidence to 1.0 and
// updates the provenance; usage counters are kept.
func (s *Store) UpsertKnowledge(groupID int64, question, answer, source string) (KnowledgeEntry, error) {
	question = strings.TrimSpace(question)
	now := formatTime(s.now())
	_, err := s.db.Exec(`
		INSERT INTO knowledge_entries (group_id, question, question_key, answer, confidence, source, created_at, taught_at)
		VALUES (?, ?, ?, ?, 1.0, ?, ?, ?)
		ON CONFLICT(group_id, question_key) DO UPDATE SET
			question = excluded.question,
			answer = excluded.answer,
			confidence = 1.0,
			source = excluded.source,
			taught_at = excluded.taught_at`,
		groupID, question, QuestionKey(question), answer, source, now, now,
	)
	if err != nil {
		return KnowledgeEntry{}, fmt.Errorf("upserting knowledge: %w", err)
	}
	return s.FindKnowledge(groupID, question)
}

// FindKnowledge returns the entry whose question equals question case-insensitively.
func (s *Store) FindKnowledge(groupID int64, question string) (KnowledgeEntry, error) {
	e, err := scanKnowledge(s.db.QueryRow(
		`SELECT `+knowledgeColumns+` FROM knowledge_entries WHERE group_id = ? AND question_key = ?`,
		groupID, QuestionKey(question),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeEntry{}, ErrNotFound
	}
	return e, err
}

func (s *Store) GetKnowledge(id int64) (KnowledgeEntry, error) {
	e, err := scanKnowledge(s.db.QueryRow(`SELECT `+knowledgeColumns+` FROM knowledge_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeEntry{}, ErrNotFound
	}
	return e, err
}

// ListKnowledge returns a group's entries, most recently taught first.
func (s *Store) ListKnowledge(groupID int64) ([]KnowledgeEntry, error) {
	return s.queryKnowledge(
		`SELECT `+knowledgeColumns+` FROM knowledge_entries WHERE group_id = ? ORDER BY taught_at DESC, id DESC`,
		groupID,
	)
}

// ListKnowledgeAbove returns a group's entries with confidence strictly above
// minConfidence, most recently taught first.
func (s *Store) ListKnowledgeAbove(groupID int64, minConfidence float64) ([]KnowledgeEntry, error) {
	return s.queryKnowledge(
		`SELECT `+knowledgeColumns+` FROM knowledge_entries WHERE group_id = ? AND confidence > ? ORDER BY taught_at DESC, id DESC`,
		groupID, minConfidence,
	)
}

func (s *Store) SetConfidence(id int64, confidence float64) error {
	res, err := s.db.Exec(`UPDATE knowledge_entries SET confidence = ? WHERE id = ?`, confidence, id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// RecordKnowledgeUsage increments the usage counter and stamps last_used.
func (s *Store) RecordKnowledgeUsage(id int64) error {
	res, err := s.db.Exec(`UPDATE knowledge_entries SET usage_count = usage_count + 1, last_used = ? WHERE id = ?`,
		formatTime(s.now()), id)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// DeleteKnowledge removes the given entries of a group in one transaction and
// returns how many rows were deleted.
func (s *Store) DeleteKnowledge(groupID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for _, id := range ids {
		res, err := tx.Exec(`DELETE FROM knowledge_entries WHERE group_id = ? AND id = ?`, groupID, id)
		if err != nil {
			return 0, fmt.Errorf("deleting knowledge %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		deleted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return deleted, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
