package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-pkgz/repeater/v2"

	"reviewscope/pkg/config"
)

// HuggingFace calls a HuggingFace inference endpoint for text classification.
// A cold model answers 503 while loading, so requests are retried with backoff.
type HuggingFace struct {
	endpoint   string
	apiKey     string
	client     *http.Client
	retries    int
	retryDelay time.Duration
}

// NewHuggingFace creates a HuggingFace classifier
func NewHuggingFace(cfg config.ClassifierConfig) *HuggingFace {
	return &HuggingFace{
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: cfg.Timeout},
		retries:    5,
		retryDelay: 500 * time.Millisecond,
	}
}

// hfRequest is the inference API request body
type hfRequest struct {
	Inputs string `json:"inputs"`
}

// errModelLoading marks a 503 response, the only retryable failure
var errModelLoading = errors.New("model is loading")

// Classify sends the text to the inference endpoint and returns ranked predictions
func (h *HuggingFace) Classify(ctx context.Context, text string) ([]Prediction, error) {
	var preds []Prediction

	retrier := repeater.NewBackoff(h.retries, h.retryDelay, repeater.WithMaxDelay(10*time.Second))
	err := retrier.Do(ctx, func() error {
		var rerr error
		preds, rerr = h.classifyOnce(ctx, text)
		if rerr != nil {
			if errors.Is(rerr, errModelLoading) {
				return rerr // retry while the model spins up
			}
			return &criticalError{err: rerr}
		}
		return nil
	})
	if err != nil {
		var critical *criticalError
		if errors.As(err, &critical) {
			return nil, critical.err
		}
		return nil, err
	}
	return preds, nil
}

// classifyOnce performs a single inference call
func (h *HuggingFace) classifyOnce(ctx context.Context, text string) ([]Prediction, error) {
	body, err := json.Marshal(hfRequest{Inputs: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Wait-For-Model", "true")
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("%w: %s", errModelLoading, resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference request: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	preds, err := parsePredictions(data)
	if err != nil {
		return nil, err
	}
	if len(preds) == 0 {
		return nil, fmt.Errorf("model returned no predictions")
	}

	// the pipeline does not guarantee ordering, rank best-first
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Score > preds[j].Score })
	return preds, nil
}

// parsePredictions handles both response shapes of the text-classification
// pipeline: a flat array of predictions and an array nested per input
func parsePredictions(data []byte) ([]Prediction, error) {
	var nested [][]Prediction
	if err := json.Unmarshal(data, &nested); err == nil {
		if len(nested) == 0 {
			return nil, fmt.Errorf("model returned no predictions")
		}
		return nested[0], nil
	}

	var flat []Prediction
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("parse predictions: %w", err)
	}
	return flat, nil
}

// Warmup classifies a trivial input to spin the model up before the loop starts
func (h *HuggingFace) Warmup(ctx context.Context) error {
	if _, err := h.Classify(ctx, "ok"); err != nil {
		return fmt.Errorf("warmup model: %w", err)
	}
	return nil
}

// criticalError wraps an error to signal the retrier result handling to stop
type criticalError struct {
	err error
}

func (e *criticalError) Error() string {
	return e.err.Error()
}
