// Package classifier adapts pretrained sentiment models behind a common
// interface. Two backends are supported: a HuggingFace inference endpoint
// and an OpenAI-compatible chat endpoint.
package classifier

import (
	"context"
	"fmt"

	"reviewscope/pkg/config"
)

// Prediction is a single label with its score, as returned by the model
type Prediction struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classifier scores a review text, returning predictions ranked best-first.
// The result is never empty on success.
type Classifier interface {
	Classify(ctx context.Context, text string) ([]Prediction, error)
	Warmup(ctx context.Context) error
}

// New creates a classifier for the configured provider
func New(cfg config.ClassifierConfig) (Classifier, error) {
	switch cfg.Provider {
	case "huggingface":
		return NewHuggingFace(cfg), nil
	case "openai":
		return NewOpenAI(cfg), nil
	default:
		return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
	}
}
