package loop

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_BoundedFIFO(t *testing.T) {
	h := NewHistory(10, 50, 5*time.Minute)
	now := time.Now()

	for i := 1; i <= 11; i++ {
		h.Add(AnalysisResult{
			Text:      fmt.Sprintf("review number %d", i),
			Sentiment: SentimentNeutral,
			Timestamp: now,
		})
	}

	entries := h.Entries()
	require.Len(t, entries, 10)

	// the first entry was evicted, the second is now oldest
	assert.Equal(t, "review number 2", entries[0].Text)
	assert.Equal(t, "review number 11", entries[9].Text)
}

func TestHistory_TruncatesText(t *testing.T) {
	h := NewHistory(10, 50, 5*time.Minute)
	long := "this review is well over fifty characters long and keeps going and going"
	h.Add(AnalysisResult{Text: long, Timestamp: time.Now()})

	entries := h.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, string([]rune(long)[:50])+"...", entries[0].Text)
	assert.Len(t, []rune(entries[0].Text), 53)
}

func TestHistory_IsDuplicate(t *testing.T) {
	now := time.Now()
	text := "an opinion about a movie that runs longer than fifty characters for sure"

	t.Run("recent entry suppresses", func(t *testing.T) {
		h := NewHistory(10, 50, 5*time.Minute)
		h.Add(AnalysisResult{Text: text, Timestamp: now.Add(-2 * time.Minute)})
		assert.True(t, h.IsDuplicate(text, now))
	})

	t.Run("stale entry does not suppress", func(t *testing.T) {
		h := NewHistory(10, 50, 5*time.Minute)
		h.Add(AnalysisResult{Text: text, Timestamp: now.Add(-6 * time.Minute)})
		assert.False(t, h.IsDuplicate(text, now))
	})

	t.Run("different text does not suppress", func(t *testing.T) {
		h := NewHistory(10, 50, 5*time.Minute)
		h.Add(AnalysisResult{Text: text, Timestamp: now.Add(-time.Minute)})
		assert.False(t, h.IsDuplicate("a completely different review text", now))
	})

	t.Run("shared long prefix collides", func(t *testing.T) {
		// the match is a fixed-length prefix heuristic, two distinct
		// reviews sharing 50+ leading characters count as duplicates
		h := NewHistory(10, 50, 5*time.Minute)
		prefix := "identical opening sentence stretching past the fifty character mark"
		h.Add(AnalysisResult{Text: prefix + " variant one", Timestamp: now.Add(-time.Minute)})
		assert.True(t, h.IsDuplicate(prefix+" variant two", now))
	})

	t.Run("short text matches exactly", func(t *testing.T) {
		h := NewHistory(10, 50, 5*time.Minute)
		h.Add(AnalysisResult{Text: "short review", Timestamp: now.Add(-time.Minute)})
		assert.True(t, h.IsDuplicate("short review", now))
		assert.False(t, h.IsDuplicate("another short", now))
	})

	t.Run("empty history", func(t *testing.T) {
		h := NewHistory(10, 50, 5*time.Minute)
		assert.False(t, h.IsDuplicate(text, now))
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 50))
	assert.Equal(t, "abcde...", truncate("abcdefgh", 5))
	assert.Equal(t, "абвгд...", truncate("абвгдежз", 5)) // rune-aware, not byte-aware
}

func TestHistory_Len(t *testing.T) {
	h := NewHistory(3, 50, 5*time.Minute)
	assert.Equal(t, 0, h.Len())
	h.Add(AnalysisResult{Text: "one", Timestamp: time.Now()})
	h.Add(AnalysisResult{Text: "two", Timestamp: time.Now()})
	assert.Equal(t, 2, h.Len())
}
