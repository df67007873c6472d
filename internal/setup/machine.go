package setup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/groupmind/internal/keylock"
	"github.com/kalambet/groupmind/internal/storage"
)

// ErrNoSession is returned when a user has no setup in progress.
var ErrNoSession = errors.New("no setup session in progress")

// Session is an in-progress setup dialogue owned by one user.
type Session struct {
	UserID    int64
	GroupID   int64
	Step      Step
	Partial   Partial
	UpdatedAt time.Time
}

// Store defines the persistence operations the Machine needs.
// Implemented by storage.Store.
type Store interface {
	SaveSession(sess storage.SetupSession) error
	GetSession(userID int64) (storage.SetupSession, error)
	DeleteSession(userID int64) error
	FinishSetup(userID, groupID int64, purpose, tone string, rules, triggers []string) error
}

// Machine drives setup sessions. Every transition is persisted before it
// is reported, so a restart resumes where the user left off.
type Machine struct {
	store  Store
	locks  *keylock.Map[int64]
	logger *slog.Logger
}

func NewMachine(store Store) *Machine {
	return &Machine{
		store:  store,
		locks:  keylock.New[int64](),
		logger: slog.Default(),
	}
}

// Begin starts a fresh session for userID targeting groupID, replacing any
// session the user already had. The caller must have verified that the user
// administers the group.
func (m *Machine) Begin(ctx context.Context, userID, groupID int64) (Session, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	sess := Session{UserID: userID, GroupID: groupID, Step: StepPurpose}
	if err := m.save(sess); err != nil {
		return Session{}, err
	}
	m.logger.Info("setup started", "user_id", userID, "group_id", groupID)
	return sess, nil
}

// Advance feeds one answer into the user's session. On *InputError the
// session is left untouched. When the last step is answered the collected
// configuration is committed to the group and the session is removed; the
// returned session then has Step == StepComplete.
func (m *Machine) Advance(ctx context.Context, userID int64, text string) (Session, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	sess, err := m.load(userID)
	if err != nil {
		return Session{}, err
	}

	next, partial, err := Apply(sess.Step, sess.Partial, text)
	if err != nil {
		return sess, err
	}
	sess.Step, sess.Partial = next, partial

	if next == StepComplete {
		p := sess.Partial
		if err := m.store.FinishSetup(userID, sess.GroupID, p.Purpose, p.Tone, p.Rules, p.Triggers); err != nil {
			return Session{}, fmt.Errorf("committing setup for group %d: %w", sess.GroupID, err)
		}
		m.logger.Info("setup completed", "user_id", userID, "group_id", sess.GroupID)
		return sess, nil
	}

	if err := m.save(sess); err != nil {
		return Session{}, err
	}
	m.logger.Debug("setup advanced", "user_id", userID, "step", next.String())
	return sess, nil
}

// Cancel abandons the user's session. It reports whether one existed.
func (m *Machine) Cancel(ctx context.Context, userID int64) (bool, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	if _, err := m.load(userID); err != nil {
		if errors.Is(err, ErrNoSession) {
			return false, nil
		}
		return false, err
	}
	if err := m.store.DeleteSession(userID); err != nil {
		return false, fmt.Errorf("deleting setup session: %w", err)
	}
	return true, nil
}

// Get returns the user's current session or ErrNoSession.
func (m *Machine) Get(ctx context.Context, userID int64) (Session, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.load(userID)
}

func (m *Machine) load(userID int64) (Session, error) {
	rec, err := m.store.GetSession(userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading setup session: %w", err)
	}

	step, err := ParseStep(rec.Step)
	if err != nil {
		return Session{}, err
	}
	sess := Session{UserID: rec.UserID, GroupID: rec.GroupID, Step: step, UpdatedAt: rec.UpdatedAt}
	if rec.PartialData != "" {
		if err := json.Unmarshal([]byte(rec.PartialData), &sess.Partial); err != nil {
			return Session{}, fmt.Errorf("decoding setup session: %w", err)
		}
	}
	return sess, nil
}

func (m *Machine) save(sess Session) error {
	data, err := json.Marshal(sess.Partial)
	if err != nil {
		return fmt.Errorf("encoding setup session: %w", err)
	}
	err = m.store.SaveSession(storage.SetupSession{
		UserID:      sess.UserID,
		GroupID:     sess.GroupID,
		Step:        sess.Step.String(),
		PartialData: string(data),
	})
	if err != nil {
		return fmt.Errorf("saving setup session: %w", err)
	}
	return nil
}
