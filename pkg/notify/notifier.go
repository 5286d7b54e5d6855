package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"B2P/config"
	"B2P/models"

	"go.uber.org/zap"
)

const postTimeout = 5 * time.Second

var ErrExhausted = errors.New("notify: evaluation callback failed after all attempts")

// Notifier posts results to the evaluation callback with exponential backoff.
type Notifier struct {
	client    *http.Client
	attempts  int
	baseDelay time.Duration
	wait      func(ctx context.Context, d time.Duration) error
}

// New builds a Notifier. client and wait may be nil.
func New(cfg config.NotifyConfig, client *http.Client, wait func(ctx context.Context, d time.Duration) error) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: postTimeout}
	}
	if wait == nil {
		wait = sleepContext
	}
	n := &Notifier{client: client, attempts: cfg.Attempts, baseDelay: cfg.BaseDelay, wait: wait}
	if n.attempts <= 0 {
		n.attempts = 1
	}
	return n
}

// Notify stops at the first 200. Delays between attempts start at baseDelay
// and double.
func (n *Notifier) Notify(ctx context.Context, url string, payload models.EvaluationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	log := zap.L().With(zap.String("task", payload.Task), zap.Int("round", payload.Round), zap.String("url", url))

	delay := n.baseDelay
	for attempt := 1; attempt <= n.attempts; attempt++ {
		status, err := n.post(ctx, url, body)
		if err == nil && status == http.StatusOK {
			log.Info("evaluation post successful", zap.Int("attempt", attempt))
			return nil
		}
		if err != nil {
			log.Warn("evaluation post error", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			log.Warn("evaluation post failed", zap.Int("attempt", attempt), zap.Int("status", status))
		}
		if attempt == n.attempts {
			break
		}
		if err := n.wait(ctx, delay); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		delay *= 2
	}
	log.Error("evaluation notification failed", zap.Int("attempts", n.attempts))
	return ErrExhausted
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
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
