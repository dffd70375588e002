package loop

import (
	"strings"
	"sync"
	"time"
)

// Entry is a compact summary of a past analysis kept for duplicate
// detection and lightweight audit
type Entry struct {
	Text              string    `json:"text"` // truncated review text
	Label             string    `json:"label"`
	Sentiment         string    `json:"sentiment"`
	ConfidencePercent float64   `json:"confidence_percent"`
	Timestamp         time.Time `json:"timestamp"`
}

// History is a bounded FIFO buffer of analysis summaries. When full, the
// oldest entry is evicted on insert.
type History struct {
	mu          sync.Mutex
	entries     []Entry
	size        int
	truncateLen int
	dedupWindow time.Duration
}

// NewHistory creates a history buffer with the given capacity,
// truncation length (in runes) and duplicate suppression window
func NewHistory(size, truncateLen int, dedupWindow time.Duration) *History {
	return &History{
		size:        size,
		truncateLen: truncateLen,
		dedupWindow: dedupWindow,
	}
}

// Add appends a summary for the result, evicting the oldest entry when full
func (h *History) Add(res AnalysisResult) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, Entry{
		Text:              truncate(res.Text, h.truncateLen),
		Label:             res.Label,
		Sentiment:         res.Sentiment,
		ConfidencePercent: res.ConfidencePercent,
		Timestamp:         res.Timestamp,
	})
	if len(h.entries) > h.size {
		h.entries = h.entries[1:]
	}
}

// IsDuplicate reports whether a recent entry already covers the text.
// The match is heuristic: a stored truncated text containing the
// candidate's fixed-length prefix counts, so distinct reviews sharing a
// long common prefix can collide.
func (h *History) IsDuplicate(text string, now time.Time) bool {
	prefix := prefixRunes(text, h.truncateLen)

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.entries {
		if now.Sub(e.Timestamp) > h.dedupWindow {
			continue
		}
		if strings.Contains(e.Text, prefix) {
			return true
		}
	}
	return false
}

// Entries returns a copy of the buffer, oldest first
func (h *History) Entries() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of buffered entries
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// truncate caps s at n runes, appending an ellipsis when cut
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// prefixRunes returns the first n runes of s
func prefixRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
