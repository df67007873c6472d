package storage

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrFeedbackRecorded is returned when an interaction already carries feedback.
var ErrFeedbackRecorded = errors.New("feedback already recorded")

// Group is the persisted configuration of one group chat.
type Group struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Purpose       string    `json:"purpose"`
	Tone          string    `json:"tone"`
	Rules         []string  `json:"rules"`
	Triggers      []string  `json:"triggers"`
	SetupComplete bool      `json:"setup_complete"`
	Paused        bool      `json:"paused"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SetupSession is the persisted form of an in-progress setup dialogue.
type SetupSession struct {
	UserID      int64
	GroupID     int64
	Step        string
	PartialData string // JSON object stored as text
	UpdatedAt   time.Time
}

// Knowledge provenance tags.
const (
	SourceManual  = "manual"
	SourceAdmin   = "admin"
	SourceDefault = "default"
)

// KnowledgeEntry is a learned question/answer pair scoped to a group.
type KnowledgeEntry struct {
	ID         int64      `json:"id"`
	GroupID    int64      `json:"group_id"`
	Question   string     `json:"question"`
	Answer     string     `json:"answer"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
	UsageCount int        `json:"usage_count"`
	LastUsed   *time.Time `json:"last_used,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	TaughtAt   time.Time  `json:"taught_at"`
}

// Interaction sources other than knowledge entries.
const (
	InteractionAI       = "ai"
	InteractionCache    = "cache"
	InteractionFallback = "fallback"
)

const knowledgeSourcePrefix = "knowledge:"

// KnowledgeSource is the interaction source of an answer taken from entry id.
func KnowledgeSource(id int64) string {
	return knowledgeSourcePrefix + strconv.FormatInt(id, 10)
}

// ParseKnowledgeSource extracts the entry id from a knowledge interaction source.
func ParseKnowledgeSource(source string) (int64, bool) {
	rest, ok := strings.CutPrefix(source, knowledgeSourcePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Interaction records one answered message.
type Interaction struct {
	ID            string    `json:"id"`
	GroupID       int64     `json:"group_id"`
	Question      string    `json:"question"`
	Answer        string    `json:"answer"`
	Source        string    `json:"source"` // "ai", "cache", "fallback" or "knowledge:<id>"
	QuestionMsgID int64     `json:"question_msg_id"`
	AnswerMsgID   int64     `json:"answer_msg_id"`
	Feedback      int       `json:"feedback"` // 0 unset, 1 positive, -1 negative
	CreatedAt     time.Time `json:"created_at"`
}

// InteractionStats aggregates a group's interaction log.
type InteractionStats struct {
	Total    int            `json:"total"`
	Positive int            `json:"positive"`
	Negative int            `json:"negative"`
	BySource map[string]int `json:"by_source"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
