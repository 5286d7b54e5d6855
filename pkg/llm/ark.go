package llm

import (
	"context"
	"errors"

	"B2P/config"

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

// ArkCompleter uses the Volcengine Ark chat completion API.
type ArkCompleter struct {
	client *arkruntime.Client
	model  string
}

func NewArkCompleter(cfg config.LLMConfig) *ArkCompleter {
	var opts []arkruntime.ConfigOption
	if cfg.BaseURL != "" {
		opts = append(opts, arkruntime.WithBaseUrl(cfg.BaseURL))
	}
	return &ArkCompleter{
		client: arkruntime.NewClientWithApiKey(cfg.APIKey, opts...),
		model:  cfg.Model,
	}
}

func (c *ArkCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	temperature := float32(Temperature)
	req := model.CreateChatCompletionRequest{
		Model: c.model,
		Messages: []*model.ChatCompletionMessage{
			{
				Role: model.ChatMessageRoleUser,
				Content: &model.ChatCompletionMessageContent{
					StringValue: volcengine.String(prompt),
				},
			},
		},
		Temperature: &temperature,
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return "", ErrEmptyCompletion
	}
	content := resp.Choices[0].Message.Content.StringValue
	if content == nil {
		return "", errors.New("ark: completion content is not text")
	}
	return *content, nil
}
