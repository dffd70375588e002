// Package dataset loads review texts from a tab-separated resource and
// samples them for analysis.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/microcosm-cc/bluemonday"
)

// ErrNoReviews indicates the resource contained no usable review rows
var ErrNoReviews = errors.New("dataset contains no usable reviews")

// Loader reads review texts from a TSV resource, local path or http(s) URL.
// The resource must have a header row with a "text" column; rows with an
// empty or whitespace-only text cell are discarded.
type Loader struct {
	client    *http.Client
	userAgent string
	sanitizer *bluemonday.Policy
}

// NewLoader creates a dataset loader
func NewLoader(timeout time.Duration, userAgent string) *Loader {
	return &Loader{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Load reads and parses the resource, returning cleaned review texts
func (l *Loader) Load(ctx context.Context, source string) ([]string, error) {
	rc, err := l.open(ctx, source)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	reviews, err := l.parse(rc)
	if err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", source, err)
	}

	lgr.Printf("[INFO] loaded %d reviews from %s", len(reviews), source)
	return reviews, nil
}

// open returns a reader for the source, fetching over HTTP for URL sources
func (l *Loader) open(ctx context.Context, source string) (io.ReadCloser, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("create dataset request: %w", err)
		}
		req.Header.Set("User-Agent", l.userAgent)

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch dataset: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("fetch dataset: unexpected status %s", resp.Status)
		}
		return resp.Body, nil
	}

	f, err := os.Open(source) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("open dataset file: %w", err)
	}
	return f, nil
}

// parse reads TSV rows and extracts cleaned texts from the "text" column
func (l *Loader) parse(r io.Reader) ([]string, error) {
	tsv := csv.NewReader(r)
	tsv.Comma = '\t'
	tsv.LazyQuotes = true
	tsv.FieldsPerRecord = -1 // rows may have trailing columns trimmed

	header, err := tsv.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	textCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "text") {
			textCol = i
			break
		}
	}
	if textCol < 0 {
		return nil, fmt.Errorf("no text column in header %v", header)
	}

	var reviews []string
	skipped := 0
	for {
		row, err := tsv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if textCol >= len(row) {
			skipped++
			continue
		}
		text := l.clean(row[textCol])
		if text == "" {
			skipped++
			continue
		}
		reviews = append(reviews, text)
	}

	if skipped > 0 {
		lgr.Printf("[DEBUG] skipped %d rows without usable text", skipped)
	}
	if len(reviews) == 0 {
		return nil, ErrNoReviews
	}
	return reviews, nil
}

// clean strips html markup and normalizes whitespace
func (l *Loader) clean(s string) string {
	s = l.sanitizer.Sanitize(s)
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}
