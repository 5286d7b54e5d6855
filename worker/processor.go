package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"B2P/dao/history"
	"B2P/dao/store"
	"B2P/models"
	"B2P/pkg/llm"
	"B2P/pkg/publish"
	"B2P/task"
	"B2P/util"

	"go.uber.org/zap"
)

// IndexFile is the generated document inside a task folder.
const IndexFile = "index.html"

type Materializer interface {
	SaveAttachments(ctx context.Context, dir string, attachments []models.Attachment) []util.SavedAttachment
}

type Generator interface {
	Generate(ctx context.Context, req llm.Request) string
}

type Publisher interface {
	Publish(ctx context.Context, req publish.Request) (publish.Result, error)
}

type Notifier interface {
	Notify(ctx context.Context, url string, payload models.EvaluationPayload) error
}

// History is the subset of the submission history the pipeline writes.
type History interface {
	Insert(ctx context.Context, r history.Record) error
	Finish(ctx context.Context, r history.Record) error
}

// EventSink receives a JSON status record per stage, keyed by task name.
type EventSink interface {
	PublishTopic(topic string, msg []byte)
}

// Deps are the collaborators of a Processor. History and Events may be nil.
type Deps struct {
	Materializer Materializer
	Generator    Generator
	Publisher    Publisher
	Notifier     Notifier
	Status       store.StatusStore
	Locker       store.Locker
	History      History
	Events       EventSink
}

// Processor runs the whole pipeline for one submission.
type Processor struct {
	workDir string
	deps    Deps
	now     func() time.Time
}

func NewProcessor(workDir string, deps Deps) *Processor {
	return &Processor{workDir: workDir, deps: deps, now: time.Now}
}

// TaskDir is the local folder of a task.
func (p *Processor) TaskDir(taskName string) string {
	return filepath.Join(p.workDir, taskName)
}

// Process materializes attachments, generates the page, publishes it and
// reports the result. Only a failed repository lookup or creation (or a
// local I/O failure) is returned as an error; the callback is then skipped.
func (p *Processor) Process(ctx context.Context, job task.Job) (err error) {
	sub := job.Submission
	log := zap.L().With(
		zap.String("submission_id", job.ID),
		zap.String("task", sub.Task),
		zap.Int("round", sub.Round))

	unlock, err := p.deps.Locker.Lock(ctx, sub.Task)
	if err != nil {
		return fmt.Errorf("lock task %s: %w", sub.Task, err)
	}
	defer unlock()

	st := task.Status{SubmissionID: job.ID, Task: sub.Task, Round: sub.Round}
	p.insertHistory(ctx, job)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing submission", zap.Any("panic", r))
			err = p.fail(ctx, st, fmt.Errorf("panic: %v", r))
		}
	}()

	p.advance(ctx, &st, task.StageProcessing)
	log.Info("processing submission")

	dir := p.TaskDir(sub.Task)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return p.fail(ctx, st, fmt.Errorf("create task folder: %w", err))
	}
	saved := p.deps.Materializer.SaveAttachments(ctx, dir, sub.Attachments)
	textFiles := 0
	for _, a := range saved {
		if a.Text {
			textFiles++
		}
	}
	log.Info("attachments saved",
		zap.Int("saved", len(saved)),
		zap.Int("text", textFiles),
		zap.Int("received", len(sub.Attachments)))

	previous, err := p.previousContent(dir, sub.Round)
	if err != nil {
		log.Warn("could not read previous document", zap.Error(err))
	}

	p.advance(ctx, &st, task.StageGenerating)
	html := p.deps.Generator.Generate(ctx, llm.Request{
		Brief:        sub.Brief,
		Attachments:  sub.Attachments,
		PreviousCode: previous,
		Checks:       sub.Checks,
		Seed:         string(sub.Seed),
	})
	if err := os.WriteFile(filepath.Join(dir, IndexFile), []byte(html), 0o644); err != nil {
		return p.fail(ctx, st, fmt.Errorf("write %s: %w", IndexFile, err))
	}

	p.advance(ctx, &st, task.StagePublishing)
	res, err := p.deps.Publisher.Publish(ctx, publish.Request{
		Task:        sub.Task,
		Round:       sub.Round,
		Brief:       sub.Brief,
		Dir:         dir,
		Attachments: saved,
	})
	if err != nil {
		return p.fail(ctx, st, fmt.Errorf("publish: %w", err))
	}
	st.RepoURL, st.PagesURL, st.CommitSHA = res.CloneURL, res.PagesURL, res.CommitSHA
	log.Info("published",
		zap.String("repo_url", res.CloneURL),
		zap.String("pages_url", res.PagesURL),
		zap.String("commit_sha", res.CommitSHA),
		zap.Bool("pages_confirmed", res.Confirmed))

	// evaluation_url 为空时没有地方可回调, 直接跳过, 不走重试
	if sub.EvaluationURL == "" {
		log.Warn("empty evaluation_url, skipping callback")
	} else {
		p.advance(ctx, &st, task.StageNotifying)
		nerr := p.deps.Notifier.Notify(ctx, sub.EvaluationURL, models.EvaluationPayload{
			Email:     sub.Email,
			Task:      sub.Task,
			Round:     sub.Round,
			Nonce:     sub.Nonce,
			RepoURL:   res.CloneURL,
			CommitSHA: res.CommitSHA,
			PagesURL:  res.PagesURL,
		})
		st.Notified = nerr == nil
		if nerr != nil {
			st.Error = nerr.Error()
			log.Error("evaluation callback failed", zap.Error(nerr))
		}
	}

	p.advance(ctx, &st, task.StageCompleted)
	p.finishHistory(ctx, st)
	log.Info("submission completed", zap.Bool("notified", st.Notified))
	return nil
}

// previousContent is the existing document for round 2 and later; empty when
// there is none.
func (p *Processor) previousContent(dir string, round int) (string, error) {
	if round < 2 {
		return "", nil
	}
	b, err := os.ReadFile(filepath.Join(dir, IndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *Processor) advance(ctx context.Context, st *task.Status, stage string) {
	st.Stage = stage
	st.UpdatedAt = p.now().Unix()
	if err := p.deps.Status.SetStatus(ctx, *st); err != nil {
		zap.L().Warn("record task status", zap.String("task", st.Task), zap.String("stage", stage), zap.Error(err))
	}
	if p.deps.Events != nil {
		if b, err := json.Marshal(st); err == nil {
			p.deps.Events.PublishTopic(st.Task, b)
		}
	}
}

func (p *Processor) fail(ctx context.Context, st task.Status, cause error) error {
	st.Error = cause.Error()
	p.advance(ctx, &st, task.StageFailed)
	p.finishHistory(ctx, st)
	zap.L().Error("submission failed",
		zap.String("submission_id", st.SubmissionID),
		zap.String("task", st.Task),
		zap.Error(cause))
	return cause
}

func (p *Processor) insertHistory(ctx context.Context, job task.Job) {
	if p.deps.History == nil {
		return
	}
	err := p.deps.History.Insert(ctx, history.Record{
		SubmissionID: job.ID,
		Task:         job.Submission.Task,
		Round:        job.Submission.Round,
		Nonce:        job.Submission.Nonce,
		Email:        job.Submission.Email,
		Status:       task.StageProcessing,
		CreatedAt:    job.AcceptedAt,
	})
	if err != nil {
		// 重投的任务已经有记录了
		zap.L().Debug("insert history row", zap.String("submission_id", job.ID), zap.Error(err))
	}
}

func (p *Processor) finishHistory(ctx context.Context, st task.Status) {
	if p.deps.History == nil {
		return
	}
	err := p.deps.History.Finish(ctx, history.Record{
		SubmissionID: st.SubmissionID,
		Status:       st.Stage,
		RepoURL:      st.RepoURL,
		PagesURL:     st.PagesURL,
		CommitSHA:    st.CommitSHA,
		Notified:     st.Notified,
		ErrorMessage: st.Error,
	})
	if err != nil {
		zap.L().Warn("finish history row", zap.String("submission_id", st.SubmissionID), zap.Error(err))
	}
}
