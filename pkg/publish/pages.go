package publish

import (
	"context"
	"net/http"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"
)

// enablePages turns on Pages for the branch root. A 409 means it is already
// on. Nothing here fails the publish.
func (p *Publisher) enablePages(ctx context.Context, owner, repo string) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	_, resp, err := p.gh.Repositories.EnablePages(ctx, owner, repo, &github.Pages{
		Source: &github.PagesSource{
			Branch: github.String(p.branch),
			Path:   github.String("/"),
		},
	})
	switch {
	case err == nil:
		zap.L().Info("github pages enabled", zap.String("repo", repo))
		return
	case resp != nil && resp.StatusCode == http.StatusConflict:
		zap.L().Info("github pages already enabled", zap.String("repo", repo))
		return
	}

	_, statusResp, statusErr := p.gh.Repositories.GetPagesInfo(ctx, owner, repo)
	if statusErr == nil && statusResp != nil && statusResp.StatusCode == http.StatusOK {
		zap.L().Info("github pages already enabled", zap.String("repo", repo))
		return
	}
	zap.L().Warn("enabling github pages failed",
		zap.String("repo", repo), zap.Error(err), zap.NamedError("status_error", statusErr))
}

// waitForPages probes url up to p.attempts times, p.interval apart, and
// reports whether it answered 200.
func (p *Publisher) waitForPages(ctx context.Context, url string) bool {
	for attempt := 1; attempt <= p.attempts; attempt++ {
		ok, status, err := p.probeOnce(ctx, url)
		if ok {
			zap.L().Info("github pages confirmed live", zap.String("url", url), zap.Int("attempt", attempt))
			return true
		}
		if err != nil {
			zap.L().Info("pages not accessible yet", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
		} else {
			zap.L().Info("pages not live yet", zap.String("url", url), zap.Int("attempt", attempt), zap.Int("status", status))
		}
		if attempt == p.attempts {
			break
		}
		if err := p.wait(ctx, p.interval); err != nil {
			break
		}
	}
	zap.L().Warn("github pages not confirmed, returning url anyway",
		zap.String("url", url), zap.Int("attempts", p.attempts))
	return false
}

func (p *Publisher) probeOnce(ctx context.Context, url string) (bool, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, 0, err
	}
	resp, err := p.probe.Do(req)
	if err != nil {
		return false, 0, err
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, resp.StatusCode, nil
}
