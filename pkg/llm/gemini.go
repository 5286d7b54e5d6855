package llm

import (
	"context"
	"errors"

	"B2P/config"

	"google.golang.org/genai"
)

// GeminiCompleter uses the Gemini API through google.golang.org/genai.
type GeminiCompleter struct {
	client *genai.Client
	model  string
}

func NewGeminiCompleter(ctx context.Context, cfg config.LLMConfig) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiCompleter{client: client, model: cfg.Model}, nil
}

func (c *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	temperature := float32(Temperature)
	result, err := c.client.Models.GenerateContent(
		ctx,
		c.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{Temperature: &temperature},
	)
	if err != nil {
		return "", err
	}
	if result == nil {
		return "", errors.New("genai: empty generate response")
	}
	return result.Text(), nil
}
