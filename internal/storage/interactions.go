package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const interactionColumns = `id, group_id, question, answer, source, question_msg_id, answer_msg_id, feedback, created_at`

func scanInteraction(row rowScanner) (Interaction, error) {
	var (
		i         Interaction
		createdAt string
	)
	if err := row.Scan(&i.ID, &i.GroupID, &i.Question, &i.Answer, &i.Source,
		&i.QuestionMsgID, &i.AnswerMsgID, &i.Feedback, &createdAt); err != nil {
		return Interaction{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Interaction{}, err
	}
	i.CreatedAt = t
	return i, nil
}

func (s *Store) SaveInteraction(i Interaction) error {
	createdAt := i.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.Exec(`
		INSERT INTO interactions (`+interactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.GroupID, i.Question, i.Answer, i.Source,
		i.QuestionMsgID, i.AnswerMsgID, i.Feedback, formatTime(createdAt),
	)
	return err
}

func (s *Store) GetInteraction(id string) (Interaction, error) {
	i, err := scanInteraction(s.db.QueryRow(`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// GetInteractionByAnswer finds the interaction whose answer was sent as answerMsgID in groupID.
func (s *Store) GetInteractionByAnswer(groupID, answerMsgID int64) (Interaction, error) {
	i, err := scanInteraction(s.db.QueryRow(
		`SELECT `+interactionColumns+` FROM interactions WHERE group_id = ? AND answer_msg_id = ?`,
		groupID, answerMsgID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	return i, err
}

// SetInteractionFeedback records feedback once. A second call returns
// ErrFeedbackRecorded and leaves the stored value untouched.
func (s *Store) SetInteractionFeedback(id string, feedback int) error {
	res, err := s.db.Exec(`UPDATE interactions SET feedback = ? WHERE id = ? AND feedback = 0`, feedback, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.GetInteraction(id); err != nil {
		return err
	}
	return ErrFeedbackRecorded
}

// ListInteractions returns a group's interactions, newest first.
func (s *Store) ListInteractions(groupID int64, limit, offset int) ([]Interaction, error) {
	rows, err := s.db.Query(
		`SELECT `+interactionColumns+` FROM interactions WHERE group_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		groupID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, i)
	}
	return results, rows.Err()
}

// GetInteractionStats aggregates feedback and answer sources for a group.
// Knowledge-backed answers are counted under "knowledge".
func (s *Store) GetInteractionStats(groupID int64) (InteractionStats, error) {
	rows, err := s.db.Query(`SELECT source, feedback, COUNT(*) FROM interactions WHERE group_id = ? GROUP BY source, feedback`, groupID)
	if err != nil {
		return InteractionStats{}, fmt.Errorf("querying interaction stats: %w", err)
	}
	defer rows.Close()

	stats := InteractionStats{BySource: make(map[string]int)}
	for rows.Next() {
		var (
			source          string
			feedback, count int
		)
		if err := rows.Scan(&source, &feedback, &count); err != nil {
			return InteractionStats{}, err
		}
		if strings.HasPrefix(source, knowledgeSourcePrefix) {
			source = "knowledge"
		}
		stats.Total += count
		stats.BySource[source] += count
		switch {
		case feedback > 0:
			stats.Positive += count
		case feedback < 0:
			stats.Negative += count
		}
	}
	return stats, rows.Err()
}
