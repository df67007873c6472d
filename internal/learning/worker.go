// Package learning applies admin corrections to the knowledge base in the
// background, using the SQLite job queue for retries.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/groupmind/internal/storage"
)

// JobType is the queue type of correction jobs.
const JobType = "learn_correction"

// Correction is an admin's corrected answer to a question the bot answered.
type Correction struct {
	GroupID       int64  `json:"group_id"`
	Question      string `json:"question"`
	Answer        string `json:"answer"`
	InteractionID string `json:"interaction_id,omitempty"`
	AdminID       int64  `json:"admin_id,omitempty"`
}

// Enqueuer adds jobs to the queue.
type Enqueuer interface {
	EnqueueJob(job storage.Job) error
}

// JobStore abstracts the job queue operations.
type JobStore interface {
	Enqueuer
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
}

// Learner stores a corrected answer. Implemented by knowledge.Service.
type Learner interface {
	LearnCorrection(ctx context.Context, groupID int64, question, answer string) (storage.KnowledgeEntry, error)
}

// Enqueue queues a correction and returns the job ID.
func Enqueue(store Enqueuer, c Correction) (string, error) {
	if strings.TrimSpace(c.Question) == "" || strings.TrimSpace(c.Answer) == "" {
		return "", fmt.Errorf("correction needs a question and an answer")
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding correction: %w", err)
	}
	id := uuid.New().String()
	if err := store.EnqueueJob(storage.Job{ID: id, Type: JobType, PayloadJSON: string(payload)}); err != nil {
		return "", fmt.Errorf("enqueueing correction: %w", err)
	}
	return id, nil
}

// Worker processes learn_correction jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	learner Learner
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, learner Learner, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		learner: learner,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("learning worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single correction job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("correction job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var c Correction
	if err := json.Unmarshal([]byte(job.PayloadJSON), &c); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	e, err := w.learner.LearnCorrection(ctx, c.GroupID, c.Question, c.Answer)
	if err != nil {
		return fmt.Errorf("learning correction for group %d: %w", c.GroupID, err)
	}
	w.logger.Info("correction learned", "group_id", c.GroupID, "entry_id", e.ID, "admin_id", c.AdminID)
	return nil
}
