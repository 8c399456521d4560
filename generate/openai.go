package generate

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAI performs text generation via an OpenAI-compatible chat completions API,
// including local llama.cpp servers.
type OpenAI struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
}

// NewOpenAI creates a model. An empty baseURL selects the public OpenAI endpoint.
func NewOpenAI(baseURL, apiKey, model string, maxTokens int, temperature float64) *OpenAI {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

// Invoke sends one chat completion request and returns the first choice.
func (o *OpenAI) Invoke(ctx context.Context, p Prompt) (string, error) {
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if p.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: p.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.User,
	})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(o.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
