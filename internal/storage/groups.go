package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const groupColumns = `id, title, purpose, tone, rules, triggers, setup_complete, paused, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGroup(row rowScanner) (Group, error) {
	var (
		g                    Group
		rules, triggers      string
		createdAt, updatedAt string
	)
	if err := row.Scan(&g.ID, &g.Title, &g.Purpose, &g.Tone, &rules, &triggers,
		&g.SetupComplete, &g.Paused, &createdAt, &updatedAt); err != nil {
		return Group{}, err
	}
	if err := json.Unmarshal([]byte(rules), &g.Rules); err != nil {
		return Group{}, fmt.Errorf("decoding rules for group %d: %w", g.ID, err)
	}
	if err := json.Unmarshal([]byte(triggers), &g.Triggers); err != nil {
		return Group{}, fmt.Errorf("decoding triggers for group %d: %w", g.ID, err)
	}
	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return Group{}, err
	}
	if g.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Group{}, err
	}
	return g, nil
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EnsureGroup creates the group row on first contact. An existing row keeps
// its configuration; only a non-empty title is refreshed.
func (s *Store) EnsureGroup(id int64, title string) (Group, error) {
	now := formatTime(s.now())
	_, err := s.db.Exec(`
		INSERT INTO groups (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = CASE WHEN excluded.title != '' THEN excluded.title ELSE groups.title END`,
		id, title, now, now,
	)
	if err != nil {
		return Group{}, fmt.Errorf("ensuring group %d: %w", id, err)
	}
	return s.GetGroup(id)
}

func (s *Store) GetGroup(id int64) (Group, error) {
	g, err := scanGroup(s.db.QueryRow(`SELECT `+groupColumns+` FROM groups WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Group{}, ErrNotFound
	}
	return g, err
}

func (s *Store) ListGroups() ([]Group, error) {
	rows, err := s.db.Query(`SELECT ` + groupColumns + ` FROM groups ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) SetPaused(id int64, paused bool) error {
	res, err := s.db.Exec(`UPDATE groups SET paused = ?, updated_at = ? WHERE id = ?`,
		paused, formatTime(s.now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Setup sessions ---

// SaveSession inserts or replaces the user's setup session.
func (s *Store) SaveSession(sess SetupSession) error {
	data := sess.PartialData
	if data == "" {
		data = "{}"
	}
	_, err := s.db.Exec(`
		INSERT INTO setup_sessions (user_id, group_id, step, partial_data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			group_id = excluded.group_id,
			step = excluded.step,
			partial_data = excluded.partial_data,
			updated_at = excluded.updated_at`,
		sess.UserID, sess.GroupID, sess.Step, data, formatTime(s.now()),
	)
	return err
}

func (s *Store) GetSession(userID int64) (SetupSession, error) {
	var (
		sess      SetupSession
		updatedAt string
	)
	err := s.db.QueryRow(`SELECT user_id, group_id, step, partial_data, updated_at FROM setup_sessions WHERE user_id = ?`, userID).
		Scan(&sess.UserID, &sess.GroupID, &sess.Step, &sess.PartialData, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SetupSession{}, ErrNotFound
	}
	if err != nil {
		return SetupSession{}, err
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return SetupSession{}, err
	}
	return sess, nil
}

func (s *Store) DeleteSession(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM setup_sessions WHERE user_id = ?`, userID)
	return err
}

// FinishSetup commits the group configuration and deletes the user's session
// in one transaction, so a crash cannot leave a completed group with a live session.
func (s *Store) FinishSetup(userID, groupID int64, purpose, tone string, rules, triggers []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning setup transaction: %w", err)
	}
	defer tx.Rollback()

	rulesJSON, err := encodeList(rules)
	if err != nil {
		return err
	}
	triggersJSON, err := encodeList(triggers)
	if err != nil {
		return err
	}
	now := formatTime(s.now())
	if _, err := tx.Exec(`
		INSERT INTO groups (id, purpose, tone, rules, triggers, setup_complete, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			purpose = excluded.purpose,
			tone = excluded.tone,
			rules = excluded.rules,
			triggers = excluded.triggers,
			setup_complete = 1,
			updated_at = excluded.updated_at`,
		groupID, purpose, tone, rulesJSON, triggersJSON, now, now,
	); err != nil {
		return fmt.Errorf("committing group config: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM setup_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting setup session: %w", err)
	}
	return tx.Commit()
}
