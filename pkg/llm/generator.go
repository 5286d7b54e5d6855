package llm

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"B2P/config"
	"B2P/models"

	"go.uber.org/zap"
)

// Temperature is fixed low so regenerations stay close to each other.
const Temperature = 0.2

var ErrEmptyCompletion = errors.New("llm: empty completion")

// Completer sends one prompt to a model and returns the raw text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Request is everything the prompt is built from.
type Request struct {
	Brief        string
	Attachments  []models.Attachment
	PreviousCode string
	Checks       []string
	Seed         string
}

// Generator turns a brief into a single HTML document. It never fails: any
// error yields FallbackPage.
type Generator struct {
	completer Completer
	timeout   time.Duration
}

func NewGenerator(c Completer, timeout time.Duration) *Generator {
	return &Generator{completer: c, timeout: timeout}
}

// NewCompleter picks the provider named in cfg.
func NewCompleter(ctx context.Context, cfg config.LLMConfig) (Completer, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAICompleter(cfg), nil
	case config.ProviderArk:
		return NewArkCompleter(cfg), nil
	case config.ProviderGemini:
		return NewGeminiCompleter(ctx, cfg)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

func (g *Generator) Generate(ctx context.Context, req Request) string {
	prompt := BuildPrompt(req)
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := g.completer.Complete(ctx, prompt)
	if err == nil {
		out = StripCodeFences(out)
		if strings.TrimSpace(out) == "" {
			err = ErrEmptyCompletion
		}
	}
	if err != nil {
		zap.L().Error("llm generation failed, using fallback page",
			zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return FallbackPage(req.Brief)
	}
	zap.L().Info("llm generation finished",
		zap.Duration("elapsed", time.Since(start)), zap.Int("bytes", len(out)))
	return out
}

// StripCodeFences removes a leading ```html or ``` and a trailing ```.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "```html"):
		s = s[len("```html"):]
	case strings.HasPrefix(s, "```"):
		s = s[len("```"):]
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Web Application</title>
    <style>
        body { font-family: Arial, sans-serif; max-width: 800px; margin: 0 auto; padding: 20px; }
        .container { background: #f5f5f5; padding: 20px; border-radius: 8px; }
        .error { color: red; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Application Generator</h1>
        <p><strong>Task:</strong> %s</p>
        <div id="content">
            <p class="error">Application generation failed. Please check the backend logs.</p>
        </div>
    </div>
</body>
</html>`

// FallbackPage is the deterministic page published when generation fails.
func FallbackPage(brief string) string {
	return fmt.Sprintf(fallbackTemplate, html.EscapeString(brief))
}
