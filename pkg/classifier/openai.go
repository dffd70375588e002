package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"reviewscope/pkg/config"
)

// OpenAI classifies sentiment through an OpenAI-compatible chat endpoint,
// prompting the model to answer with a JSON array of label/score pairs.
type OpenAI struct {
	client *openai.Client
	config config.ClassifierConfig
}

// NewOpenAI creates an OpenAI-backed classifier
func NewOpenAI(cfg config.ClassifierConfig) *OpenAI {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.Endpoint != "" {
		clientConfig.BaseURL = cfg.Endpoint
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}
}

const sentimentSystemPrompt = `You are a sentiment classifier for short review texts.
For the given review respond ONLY with a JSON array of exactly two objects:
[{"label": "POSITIVE", "score": 0.0-1.0}, {"label": "NEGATIVE", "score": 0.0-1.0}]
The two scores must sum to 1.0 and the array must be ordered by score, highest first.
No prose, no markdown fences, just the JSON array.`

// Classify asks the chat model to score the review and parses its JSON answer
func (o *OpenAI) Classify(ctx context.Context, text string) ([]Prediction, error) {
	// retry up to 3 times if we get invalid JSON back
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req := openai.ChatCompletionRequest{
			Model:       o.config.Model,
			Temperature: float32(o.config.Temperature),
			MaxTokens:   o.config.MaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: sentimentSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: text},
			},
		}

		resp, err := o.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("llm request failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("no response from llm")
		}

		preds, err := parseChatPredictions(resp.Choices[0].Message.Content)
		if err == nil {
			return preds, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("failed after 3 attempts: %w", lastErr)
}

// parseChatPredictions extracts the JSON array from the model answer,
// tolerating prose or markdown fences around it
func parseChatPredictions(content string) ([]Prediction, error) {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no json array found in response")
	}

	var preds []Prediction
	if err := json.Unmarshal([]byte(content[start:end+1]), &preds); err != nil {
		return nil, fmt.Errorf("failed to parse json array response: %w", err)
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("model returned no predictions")
	}

	// clamp scores to the unit interval
	for i := range preds {
		if preds[i].Score < 0 {
			preds[i].Score = 0
		}
		if preds[i].Score > 1 {
			preds[i].Score = 1
		}
	}
	return preds, nil
}

// Warmup verifies the endpoint and credentials are usable
func (o *OpenAI) Warmup(ctx context.Context) error {
	if _, err := o.client.ListModels(ctx); err != nil {
		return fmt.Errorf("warmup model: %w", err)
	}
	return nil
}
