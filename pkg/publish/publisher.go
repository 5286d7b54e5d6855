package publish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"B2P/config"
	"B2P/util"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"
)

const (
	// UnknownCommitSHA is reported when no file write produced a commit.
	UnknownCommitSHA = "unknown_commit_sha"

	apiTimeout   = 10 * time.Second
	probeTimeout = 5 * time.Second
	descMaxRunes = 100
)

// Request describes one publish of a task folder.
type Request struct {
	Task        string
	Round       int
	Brief       string
	Dir         string
	Attachments []util.SavedAttachment
}

// Result is what the evaluation callback needs.
type Result struct {
	CloneURL  string
	PagesURL  string
	CommitSHA string
	Created   bool
	Confirmed bool
}

// Options replaces the network-facing pieces; the zero value is production.
type Options struct {
	HTTPClient *http.Client
	// PagesURL builds the public address probed for liveness.
	PagesURL func(owner, repo string) string
	// Wait sleeps between liveness probes.
	Wait func(ctx context.Context, d time.Duration) error
	Now  func() time.Time
}

// Publisher mirrors a task folder into a GitHub repository served by Pages.
type Publisher struct {
	gh       *github.Client
	probe    *http.Client
	branch   string
	attempts int
	interval time.Duration
	pagesURL func(owner, repo string) string
	wait     func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

func New(cfg config.GitHubConfig, opts Options) (*Publisher, error) {
	gh := github.NewClient(opts.HTTPClient)
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	if cfg.APIURL != "" {
		base, err := url.Parse(cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("publish: bad api url: %w", err)
		}
		gh.BaseURL = base
	}

	probe := &http.Client{Timeout: probeTimeout}
	if opts.HTTPClient != nil {
		probe = &http.Client{Timeout: probeTimeout, Transport: opts.HTTPClient.Transport}
	}

	p := &Publisher{
		gh:       gh,
		probe:    probe,
		branch:   cfg.Branch,
		attempts: cfg.PagesAttempts,
		interval: cfg.PagesInterval,
		pagesURL: opts.PagesURL,
		wait:     opts.Wait,
		now:      opts.Now,
	}
	if p.branch == "" {
		p.branch = "main"
	}
	if p.attempts <= 0 {
		p.attempts = 1
	}
	if p.pagesURL == nil {
		p.pagesURL = func(owner, repo string) string {
			return fmt.Sprintf("https://%s.github.io/%s/", owner, repo)
		}
	}
	if p.wait == nil {
		p.wait = sleepContext
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Publish ensures the repository exists, syncs every file, writes README and
// LICENSE, enables Pages and waits (bounded) for the site to answer. Only a
// failure to resolve or create the repository is returned as an error.
func (p *Publisher) Publish(ctx context.Context, req Request) (Result, error) {
	log := zap.L().With(zap.String("task", req.Task), zap.Int("round", req.Round))

	owner, err := p.login(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("github operation failed: %w", err)
	}
	repo, created, err := p.ensureRepo(ctx, owner, req)
	if err != nil {
		return Result{}, fmt.Errorf("github operation failed: %w", err)
	}
	if created {
		log.Info("created new repo", zap.String("repo", repo.GetFullName()))
	} else {
		log.Info("found existing repo", zap.String("repo", repo.GetFullName()))
	}

	repoURL := repo.GetHTMLURL()
	if repoURL == "" {
		repoURL = fmt.Sprintf("https://github.com/%s/%s", owner, req.Task)
	}

	files := p.collectFiles(ctx, owner, repoURL, req)
	commit := ""
	for _, f := range files {
		sha, err := p.putFile(ctx, owner, req.Task, req.Round, f)
		if err != nil {
			log.Error("failed to push file, skipping", zap.String("path", f.path), zap.Error(err))
			continue
		}
		commit = sha
	}
	if commit == "" {
		commit = UnknownCommitSHA
	}

	p.enablePages(ctx, owner, req.Task)
	pagesURL := p.pagesURL(owner, req.Task)
	confirmed := p.waitForPages(ctx, pagesURL)

	cloneURL := repo.GetCloneURL()
	if cloneURL == "" {
		cloneURL = repoURL + ".git"
	}
	return Result{
		CloneURL:  cloneURL,
		PagesURL:  pagesURL,
		CommitSHA: commit,
		Created:   created,
		Confirmed: confirmed,
	}, nil
}

func (p *Publisher) login(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	user, _, err := p.gh.Users.Get(ctx, "")
	if err != nil {
		return "", fmt.Errorf("get authenticated user: %w", err)
	}
	return user.GetLogin(), nil
}

func (p *Publisher) ensureRepo(ctx context.Context, owner string, req Request) (*github.Repository, bool, error) {
	getCtx, cancel := context.WithTimeout(ctx, apiTimeout)
	repo, resp, err := p.gh.Repositories.Get(getCtx, owner, req.Task)
	cancel()
	if err == nil {
		return repo, false, nil
	}
	if !isNotFound(resp) {
		return nil, false, fmt.Errorf("get repo %s/%s: %w", owner, req.Task, err)
	}

	createCtx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	repo, _, err = p.gh.Repositories.Create(createCtx, "", &github.Repository{
		Name:        github.String(req.Task),
		Description: github.String(repoDescription(req.Brief)),
		Private:     github.Bool(false),
		AutoInit:    github.Bool(true),
	})
	if err != nil {
		return nil, false, fmt.Errorf("create repo %s: %w", req.Task, err)
	}
	return repo, true, nil
}

func repoDescription(brief string) string {
	r := []rune(brief)
	if len(r) > descMaxRunes {
		r = r[:descMaxRunes]
	}
	return "Auto-generated: " + string(r) + "..."
}

// generatedFiles are written by the publisher itself; attachments with these
// names would only be overwritten in the same round.
var generatedFiles = map[string]bool{
	"index.html": true,
	"README.md":  true,
	"LICENSE":    true,
}

type repoFile struct {
	path    string
	content []byte
}

func (p *Publisher) collectFiles(ctx context.Context, owner, repoURL string, req Request) []repoFile {
	var files []repoFile

	if b, err := os.ReadFile(filepath.Join(req.Dir, "index.html")); err == nil {
		files = append(files, repoFile{path: "index.html", content: b})
	} else {
		zap.L().Warn("index.html missing from task folder", zap.String("task", req.Task), zap.Error(err))
	}

	names := make([]string, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		if generatedFiles[a.Name] {
			zap.L().Warn("attachment name clashes with a generated file, skipping",
				zap.String("task", req.Task), zap.String("file", a.Name))
			continue
		}
		b, err := os.ReadFile(a.Path)
		if err != nil {
			zap.L().Error("failed to read attachment", zap.String("file", a.Name), zap.Error(err))
			continue
		}
		files = append(files, repoFile{path: a.Name, content: b})
		names = append(names, a.Name)
	}

	var previous string
	if req.Round >= 2 {
		previous = p.remoteText(ctx, owner, req.Task, "README.md")
	}
	readme := BuildReadme(ReadmeInput{
		Task:        req.Task,
		Brief:       req.Brief,
		RepoURL:     repoURL,
		Round:       req.Round,
		Attachments: names,
		Previous:    previous,
		Date:        p.now(),
	})
	files = append(files,
		repoFile{path: "README.md", content: []byte(readme)},
		repoFile{path: "LICENSE", content: []byte(License(p.now().Year(), owner))},
	)
	return files
}

// remoteText returns a file's current content on the branch, or "" if it
// cannot be read.
func (p *Publisher) remoteText(ctx context.Context, owner, repo, path string) string {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()
	fc, _, _, err := p.gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: p.branch})
	if err != nil || fc == nil {
		return ""
	}
	s, err := fc.GetContent()
	if err != nil {
		return ""
	}
	return s
}

// putFile creates or updates one path and returns the commit SHA.
func (p *Publisher) putFile(ctx context.Context, owner, repo string, round int, f repoFile) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	existing, _, resp, err := p.gh.Repositories.GetContents(ctx, owner, repo, f.path, &github.RepositoryContentGetOptions{Ref: p.branch})
	if err != nil && !isNotFound(resp) {
		return "", fmt.Errorf("look up %s: %w", f.path, err)
	}

	opts := &github.RepositoryContentFileOptions{
		Content: f.content,
		Branch:  github.String(p.branch),
	}
	var res *github.RepositoryContentResponse
	if err == nil && existing != nil {
		opts.Message = github.String(fmt.Sprintf("Round %d - Update %s", round, f.path))
		opts.SHA = github.String(existing.GetSHA())
		res, _, err = p.gh.Repositories.UpdateFile(ctx, owner, repo, f.path, opts)
		if err == nil {
			zap.L().Info("updated file", zap.String("repo", repo), zap.String("path", f.path))
		}
	} else {
		opts.Message = github.String(fmt.Sprintf("Round %d - Add %s", round, f.path))
		res, _, err = p.gh.Repositories.CreateFile(ctx, owner, repo, f.path, opts)
		if err == nil {
			zap.L().Info("created file", zap.String("repo", repo), zap.String("path", f.path))
		}
	}
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", errors.New("empty contents response")
	}
	return res.Commit.GetSHA(), nil
}

func isNotFound(resp *github.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
