package logic

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"B2P/config"
	"B2P/dao/store"
	"B2P/models"
	"B2P/pkg/queue"
	"B2P/task"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Submissions accepts validated webhook submissions and schedules them.
type Submissions struct {
	secret     string
	github     config.GitHubConfig
	dispatcher queue.Dispatcher
	status     store.StatusStore
	newID      func() string
	now        func() time.Time
}

func NewSubmissions(secret string, gh config.GitHubConfig, d queue.Dispatcher, status store.StatusStore) *Submissions {
	return &Submissions{
		secret:     secret,
		github:     gh,
		dispatcher: d,
		status:     status,
		newID:      uuid.NewString,
		now:        time.Now,
	}
}

// SecretMatches compares in constant time.
func (s *Submissions) SecretMatches(got string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) == 1
}

// AcceptMessage is the human readable part of the acknowledgement.
func AcceptMessage(pagesURL string) string {
	return "Processing started in background. Your app will be available at: " + pagesURL
}

// Accept records the submission and hands it to the dispatcher. The returned
// URLs are predictions from the configured account, not from GitHub.
func (s *Submissions) Accept(ctx context.Context, sub models.Submission) (models.AcceptedResponse, error) {
	sub.Secret = ""
	job := task.Job{
		ID:         s.newID(),
		Submission: sub,
		AcceptedAt: s.now().Unix(),
	}
	pagesURL := s.github.PagesURL(sub.Task)
	repoURL := s.github.RepoURL(sub.Task)

	st := task.Status{
		SubmissionID: job.ID,
		Task:         sub.Task,
		Round:        sub.Round,
		Stage:        task.StageAccepted,
		PagesURL:     pagesURL,
		UpdatedAt:    job.AcceptedAt,
	}
	if err := s.status.SetStatus(ctx, st); err != nil {
		zap.L().Warn("record accepted status", zap.String("task", sub.Task), zap.Error(err))
	}

	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		st.Stage = task.StageFailed
		st.Error = err.Error()
		st.UpdatedAt = s.now().Unix()
		_ = s.status.SetStatus(ctx, st)
		return models.AcceptedResponse{}, fmt.Errorf("schedule submission %s: %w", job.ID, err)
	}

	zap.L().Info("submission accepted",
		zap.String("submission_id", job.ID),
		zap.String("task", sub.Task),
		zap.Int("round", sub.Round),
		zap.Int("attachments", len(sub.Attachments)))

	return models.AcceptedResponse{
		Status:   "accepted",
		Task:     sub.Task,
		Round:    sub.Round,
		PagesURL: pagesURL,
		RepoURL:  repoURL,
		Message:  AcceptMessage(pagesURL),
	}, nil
}

// Status returns the last recorded status of a task.
func (s *Submissions) Status(ctx context.Context, taskName string) (task.Status, error) {
	return s.status.GetStatus(ctx, taskName)
}

// List pages over every task the store knows.
func (s *Submissions) List(ctx context.Context, cursor string, pageSize int) (*store.StatusPage, error) {
	return s.status.ListStatuses(ctx, cursor, pageSize)
}
