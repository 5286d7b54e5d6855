package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"B2P/dao/history"
	"B2P/dao/store"
	"B2P/models"
	"B2P/pkg/llm"
	"B2P/pkg/notify"
	"B2P/pkg/publish"
	"B2P/task"
	"B2P/util"
)

type fakeMaterializer struct{}

func (fakeMaterializer) SaveAttachments(ctx context.Context, dir string, atts []models.Attachment) []util.SavedAttachment {
	out := make([]util.SavedAttachment, 0, len(atts))
	for _, a := range atts {
		out = append(out, util.SavedAttachment{Name: a.FileName(), Path: filepath.Join(dir, a.FileName())})
	}
	return out
}

type fakeGenerator struct {
	got   llm.Request
	html  string
	panic bool
}

func (g *fakeGenerator) Generate(ctx context.Context, req llm.Request) string {
	if g.panic {
		panic("generator exploded")
	}
	g.got = req
	return g.html
}

type fakePublisher struct {
	got   publish.Request
	calls int
	err   error
}

func (p *fakePublisher) Publish(ctx context.Context, req publish.Request) (publish.Result, error) {
	p.calls++
	p.got = req
	if p.err != nil {
		return publish.Result{}, p.err
	}
	return publish.Result{
		CloneURL:  "https://github.com/octo/" + req.Task + ".git",
		PagesURL:  "https://octo.github.io/" + req.Task + "/",
		CommitSHA: "abc123",
		Confirmed: true,
	}, nil
}

type fakeNotifier struct {
	calls   int
	url     string
	payload models.EvaluationPayload
	err     error
}

func (n *fakeNotifier) Notify(ctx context.Context, url string, payload models.EvaluationPayload) error {
	n.calls++
	n.url, n.payload = url, payload
	return n.err
}

type fakeHistory struct {
	mu       sync.Mutex
	inserted []history.Record
	finished []history.Record
}

func (h *fakeHistory) Insert(ctx context.Context, r history.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inserted = append(h.inserted, r)
	return nil
}

func (h *fakeHistory) Finish(ctx context.Context, r history.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, r)
	return nil
}

type fakeEvents struct {
	stages []string
}

func (e *fakeEvents) PublishTopic(topic string, msg []byte) {
	var st task.Status
	if err := json.Unmarshal(msg, &st); err == nil {
		e.stages = append(e.stages, topic+":"+st.Stage)
	}
}

type harness struct {
	proc     *Processor
	gen      *fakeGenerator
	pub      *fakePublisher
	notifier *fakeNotifier
	status   *store.MemoryStore
	history  *fakeHistory
	events   *fakeEvents
	workDir  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gen:      &fakeGenerator{html: "<html>new</html>"},
		pub:      &fakePublisher{},
		notifier: &fakeNotifier{},
		status:   store.NewMemoryStore(),
		history:  &fakeHistory{},
		events:   &fakeEvents{},
		workDir:  t.TempDir(),
	}
	h.proc = NewProcessor(h.workDir, Deps{
		Materializer: fakeMaterializer{},
		Generator:    h.gen,
		Publisher:    h.pub,
		Notifier:     h.notifier,
		Status:       h.status,
		Locker:       store.NewMemoryLocker(),
		History:      h.history,
		Events:       h.events,
	})
	return h
}

func job(round int) task.Job {
	return task.Job{
		ID: "sub-1",
		Submission: models.Submission{
			Email:         "student@example.com",
			Task:          "demo1",
			Round:         round,
			Nonce:         "n-1",
			Brief:         "Build a counter",
			Attachments:   []models.Attachment{{Name: "data.csv", URL: "data:text/csv;base64,YQ=="}},
			Checks:        []string{"has a button"},
			Seed:          "42",
			EvaluationURL: "https://eval.example.com/notify",
		},
		AcceptedAt: 100,
	}
}

func TestProcessRoundOne(t *testing.T) {
	h := newHarness(t)
	// a leftover document from an earlier run is ignored in round 1
	dir := filepath.Join(h.workDir, "demo1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, IndexFile), []byte("<html>old</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.proc.Process(context.Background(), job(1)); err != nil {
		t.Fatalf("process: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(h.workDir, "demo1", IndexFile))
	if err != nil || string(b) != "<html>new</html>" {
		t.Fatalf("index.html not written: %q %v", b, err)
	}
	if h.gen.got.PreviousCode != "" {
		t.Fatalf("round 1 must not carry previous content, got %q", h.gen.got.PreviousCode)
	}
	if h.gen.got.Seed != "42" || len(h.gen.got.Checks) != 1 {
		t.Fatalf("unexpected generator request: %+v", h.gen.got)
	}
	if h.pub.got.Dir != filepath.Join(h.workDir, "demo1") || len(h.pub.got.Attachments) != 1 {
		t.Fatalf("unexpected publish request: %+v", h.pub.got)
	}

	want := models.EvaluationPayload{
		Email: "student@example.com", Task: "demo1", Round: 1, Nonce: "n-1",
		RepoURL: "https://github.com/octo/demo1.git", CommitSHA: "abc123",
		PagesURL: "https://octo.github.io/demo1/",
	}
	if h.notifier.payload != want || h.notifier.url != "https://eval.example.com/notify" {
		t.Fatalf("unexpected callback: %s %+v", h.notifier.url, h.notifier.payload)
	}

	st, err := h.status.GetStatus(context.Background(), "demo1")
	if err != nil {
		t.Fatal(err)
	}
	if st.Stage != task.StageCompleted || !st.Notified || st.CommitSHA != "abc123" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(h.history.inserted) != 1 || h.history.inserted[0].CreatedAt != 100 {
		t.Fatalf("unexpected history insert: %+v", h.history.inserted)
	}
	if len(h.history.finished) != 1 || h.history.finished[0].Status != task.StageCompleted || !h.history.finished[0].Notified {
		t.Fatalf("unexpected history finish: %+v", h.history.finished)
	}
	wantStages := []string{"demo1:processing", "demo1:generating", "demo1:publishing", "demo1:notifying", "demo1:completed"}
	if len(h.events.stages) != len(wantStages) {
		t.Fatalf("unexpected events: %v", h.events.stages)
	}
	for i := range wantStages {
		if h.events.stages[i] != wantStages[i] {
			t.Fatalf("unexpected events: %v", h.events.stages)
		}
	}
}

func TestProcessRoundTwoReadsPreviousDocument(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(h.workDir, "demo1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, IndexFile), []byte("<html>old</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := h.proc.Process(context.Background(), job(2)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.gen.got.PreviousCode != "<html>old</html>" {
		t.Fatalf("expected previous content, got %q", h.gen.got.PreviousCode)
	}
	if h.notifier.payload.Round != 2 {
		t.Fatalf("expected round 2 in callback, got %d", h.notifier.payload.Round)
	}
}

func TestProcessRoundTwoWithoutLocalDocument(t *testing.T) {
	h := newHarness(t)
	if err := h.proc.Process(context.Background(), job(2)); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.gen.got.PreviousCode != "" {
		t.Fatalf("expected no previous content, got %q", h.gen.got.PreviousCode)
	}
}

func TestProcessPublishFailureSkipsCallback(t *testing.T) {
	h := newHarness(t)
	h.pub.err = errors.New("repository lookup failed")

	if err := h.proc.Process(context.Background(), job(1)); err == nil {
		t.Fatal("expected an error")
	}
	if h.notifier.calls != 0 {
		t.Fatalf("callback must not be sent after a publish failure, got %d calls", h.notifier.calls)
	}
	st, _ := h.status.GetStatus(context.Background(), "demo1")
	if st.Stage != task.StageFailed || st.Error == "" {
		t.Fatalf("unexpected status: %+v", st)
	}
	if len(h.history.finished) != 1 || h.history.finished[0].Status != task.StageFailed {
		t.Fatalf("failed submission must still be recorded: %+v", h.history.finished)
	}
}

func TestProcessCallbackExhaustionStillCompletes(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = notify.ErrExhausted

	if err := h.proc.Process(context.Background(), job(1)); err != nil {
		t.Fatalf("callback failure should not fail the job: %v", err)
	}
	st, _ := h.status.GetStatus(context.Background(), "demo1")
	if st.Stage != task.StageCompleted || st.Notified {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestProcessEmptyEvaluationURLSkipsCallback(t *testing.T) {
	h := newHarness(t)
	j := job(1)
	j.Submission.EvaluationURL = ""

	if err := h.proc.Process(context.Background(), j); err != nil {
		t.Fatalf("process: %v", err)
	}
	if h.notifier.calls != 0 {
		t.Fatalf("no callback expected without a url, got %d", h.notifier.calls)
	}
	st, _ := h.status.GetStatus(context.Background(), "demo1")
	if st.Stage != task.StageCompleted || st.Notified {
		t.Fatalf("unexpected status: %+v", st)
	}
	for _, s := range h.events.stages {
		if s == "demo1:"+task.StageNotifying {
			t.Fatalf("notifying stage should be skipped: %v", h.events.stages)
		}
	}
}

func TestProcessRecoversPanic(t *testing.T) {
	h := newHarness(t)
	h.gen.panic = true

	if err := h.proc.Process(context.Background(), job(1)); err == nil {
		t.Fatal("expected an error from a panicking stage")
	}
	st, _ := h.status.GetStatus(context.Background(), "demo1")
	if st.Stage != task.StageFailed {
		t.Fatalf("unexpected status: %+v", st)
	}
	if h.pub.calls != 0 {
		t.Fatal("publish should not run after a panic")
	}
	// the task lock is released
	if err := h.proc.Process(context.Background(), job(1)); err == nil {
		t.Fatal("expected the second run to panic too")
	}
}
