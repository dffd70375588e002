// Package sink forwards analysis results to a remote spreadsheet-logging
// webhook. Dispatch is best-effort: the response is never interpreted and a
// completed request counts as delivered.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"reviewscope/pkg/config"
)

// Payload is the webhook request body
type Payload struct {
	TsISO     string `json:"ts_iso"`
	Review    string `json:"review"`
	Sentiment string `json:"sentiment"`
	Meta      string `json:"meta"`
}

// Sheet posts payloads to a spreadsheet webhook. It keeps last-dispatch
// bookkeeping for the status display only; delivery is unverified.
type Sheet struct {
	url    string
	client *http.Client

	mu          sync.Mutex
	lastAttempt time.Time
	lastOK      bool
}

// NewSheet creates a webhook sink
func NewSheet(cfg config.SinkConfig) *Sheet {
	return &Sheet{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Send posts the payload. Any completed request counts as success, the
// webhook response is opaque and not parsed. Only transport errors fail.
func (s *Sheet) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		s.record(false)
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(string(body)))
	if err != nil {
		s.record(false)
		return fmt.Errorf("create sink request: %w", err)
	}
	// plain text avoids a preflight round-trip on script-hosted webhooks
	req.Header.Set("Content-Type", "text/plain;charset=utf-8")

	resp, err := s.client.Do(req)
	if err != nil {
		s.record(false)
		return fmt.Errorf("sink request: %w", err)
	}
	defer resp.Body.Close()

	// drain so the connection can be reused; status is deliberately ignored
	_, _ = io.Copy(io.Discard, resp.Body)

	s.record(true)
	return nil
}

// Status reports the last dispatch attempt and whether it completed
func (s *Sheet) Status() (lastAttempt time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAttempt, s.lastOK
}

func (s *Sheet) record(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAttempt = time.Now()
	s.lastOK = ok
}
