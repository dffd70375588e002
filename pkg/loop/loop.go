// Package loop coordinates the analysis cycle: sample a review, classify
// its sentiment, keep a bounded history, and conditionally forward the
// result to the logging sink. At most one analysis is ever in flight;
// requests arriving while busy are dropped, not queued.
package loop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"reviewscope/pkg/classifier"
	"reviewscope/pkg/journal"
	"reviewscope/pkg/sink"
)

// ErrNotReady indicates the dataset or the model has not been loaded yet
var ErrNotReady = errors.New("dataset or model not ready")

// Sentiment values derived from the model's label and score
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// AnalysisResult is one completed classification. Immutable after creation,
// superseded by the next result.
type AnalysisResult struct {
	Text              string    `json:"text"`
	Label             string    `json:"label"`
	Score             float64   `json:"score"`
	Sentiment         string    `json:"sentiment"`
	ConfidencePercent float64   `json:"confidence_percent"`
	Timestamp         time.Time `json:"timestamp"`
	TriggeredByUser   bool      `json:"triggered_by_user"`
}

// DatasetLoader loads review texts from the configured resource
type DatasetLoader interface {
	Load(ctx context.Context, source string) ([]string, error)
}

// Sampler picks one review from the dataset
type Sampler interface {
	Pick(items []string) (string, error)
}

// Classifier scores a review text, predictions ranked best-first
type Classifier interface {
	Classify(ctx context.Context, text string) ([]classifier.Prediction, error)
	Warmup(ctx context.Context) error
}

// Sink forwards a result to the remote logging endpoint
type Sink interface {
	Send(ctx context.Context, p sink.Payload) error
}

// Journal records outcomes for diagnostics
type Journal interface {
	RecordAnalysis(ctx context.Context, rec journal.Analysis) error
	RecordFailure(ctx context.Context, stage, message string, triggeredByUser bool) error
}

// Events are optional callbacks the presentation layer subscribes to.
// They fire for timer-driven work too, which a synchronous caller never sees.
type Events struct {
	OnResult func(res AnalysisResult)
	OnError  func(err error, triggeredByUser bool)
}

// Params holds loop dependencies and settings
type Params struct {
	Loader     DatasetLoader
	Sampler    Sampler
	Classifier Classifier
	Sink       Sink    // nil disables forwarding entirely
	Journal    Journal // nil disables diagnostics records
	Events     Events

	Source         string
	Interval       time.Duration
	HistorySize    int
	DedupWindow    time.Duration
	TruncateLength int
	SinkTimeout    time.Duration
	AutoLogging    bool

	Now func() time.Time // injectable clock for tests
}

// Loop owns the analysis state machine
type Loop struct {
	loader      DatasetLoader
	sampler     Sampler
	classifier  Classifier
	sink        Sink
	journal     Journal
	events      Events
	history     *History
	source      string
	interval    time.Duration
	truncateLen int
	sinkTimeout time.Duration
	now         func() time.Time

	busy sync.Mutex // single-flight lock, held for the whole analysis

	mu           sync.RWMutex // guards flags, reviews and last result
	reviews      []string
	datasetReady bool
	modelReady   bool
	autoLogging  bool
	lastResult   *AnalysisResult

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a loop instance
func New(p Params) *Loop {
	if p.Interval == 0 {
		p.Interval = 30 * time.Second
	}
	if p.HistorySize == 0 {
		p.HistorySize = 10
	}
	if p.DedupWindow == 0 {
		p.DedupWindow = 5 * time.Minute
	}
	if p.TruncateLength == 0 {
		p.TruncateLength = 50
	}
	if p.SinkTimeout == 0 {
		p.SinkTimeout = 10 * time.Second
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	return &Loop{
		loader:      p.Loader,
		sampler:     p.Sampler,
		classifier:  p.Classifier,
		sink:        p.Sink,
		journal:     p.Journal,
		events:      p.Events,
		history:     NewHistory(p.HistorySize, p.TruncateLength, p.DedupWindow),
		source:      p.Source,
		interval:    p.Interval,
		truncateLen: p.TruncateLength,
		sinkTimeout: p.SinkTimeout,
		autoLogging: p.AutoLogging,
		now:         p.Now,
	}
}

// Subscribe registers presentation callbacks. Must be called before Start.
func (l *Loop) Subscribe(ev Events) {
	l.events = ev
}

// Init loads the dataset and warms the model concurrently. On failure the
// loop stays not-ready: the manual trigger answers ErrNotReady and the
// periodic timer must not be started.
func (l *Loop) Init(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reviews, err := l.loader.Load(gctx, l.source)
		if err != nil {
			return fmt.Errorf("load dataset: %w", err)
		}
		l.mu.Lock()
		l.reviews = reviews
		l.datasetReady = true
		l.mu.Unlock()
		return nil
	})

	g.Go(func() error {
		if err := l.classifier.Warmup(gctx); err != nil {
			return fmt.Errorf("warm up classifier: %w", err)
		}
		l.mu.Lock()
		l.modelReady = true
		l.mu.Unlock()
		lgr.Printf("[INFO] classifier ready")
		return nil
	})

	return g.Wait()
}

// Start begins the periodic analysis trigger
func (l *Loop) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)

	l.wg.Add(1)
	go l.tickWorker(ctx)

	lgr.Printf("[INFO] analysis loop started with interval %v", l.interval)
}

// Stop cancels the periodic trigger and waits for in-flight work
func (l *Loop) Stop() {
	lgr.Printf("[INFO] stopping analysis loop...")
	if l.cancel != nil {
		l.cancel()
	}
	l.wg.Wait()
	lgr.Printf("[INFO] analysis loop stopped")
}

// tickWorker fires a timer-triggered analysis on a fixed interval. A tick
// arriving while an analysis is in flight is dropped, never queued.
func (l *Loop) tickWorker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// timer-triggered failures are suppressed inside
			_, _ = l.RequestAnalysis(ctx, false)
		}
	}
}

// RequestAnalysis runs one analysis cycle. User-triggered failures are
// returned to the caller; timer-triggered ones are logged and swallowed.
// A request arriving while another is in flight is a silent no-op
// returning (nil, nil).
func (l *Loop) RequestAnalysis(ctx context.Context, triggeredByUser bool) (*AnalysisResult, error) {
	l.mu.RLock()
	ready := l.datasetReady && l.modelReady
	reviews := l.reviews
	l.mu.RUnlock()

	if !ready {
		if triggeredByUser {
			return nil, ErrNotReady
		}
		lgr.Printf("[DEBUG] tick skipped, dataset or model not ready")
		return nil, nil
	}

	if !l.busy.TryLock() {
		lgr.Printf("[DEBUG] analysis already in flight, request dropped")
		return nil, nil
	}
	defer l.busy.Unlock()

	res, err := l.analyze(ctx, reviews, triggeredByUser)
	if err != nil {
		if l.events.OnError != nil {
			l.events.OnError(err, triggeredByUser)
		}
		if triggeredByUser {
			return nil, err
		}
		lgr.Printf("[WARN] periodic analysis failed: %v", err)
		return nil, nil
	}

	if l.events.OnResult != nil {
		l.events.OnResult(*res)
	}
	return res, nil
}

// analyze samples one review, classifies it, updates the history and
// forwards the result to the sink when allowed
func (l *Loop) analyze(ctx context.Context, reviews []string, triggeredByUser bool) (*AnalysisResult, error) {
	text, err := l.sampler.Pick(reviews)
	if err != nil {
		l.recordFailure(ctx, "sample", err.Error(), triggeredByUser)
		return nil, fmt.Errorf("sample review: %w", err)
	}

	preds, err := l.classifier.Classify(ctx, text)
	if err != nil {
		l.recordFailure(ctx, "classify", err.Error(), triggeredByUser)
		return nil, fmt.Errorf("classify review: %w", err)
	}
	if len(preds) == 0 {
		l.recordFailure(ctx, "classify", "no predictions", triggeredByUser)
		return nil, fmt.Errorf("classifier returned no predictions")
	}

	top := preds[0]
	now := l.now()
	res := &AnalysisResult{
		Text:              text,
		Label:             top.Label,
		Score:             top.Score,
		Sentiment:         deriveSentiment(top.Label, top.Score),
		ConfidencePercent: confidencePercent(top.Score),
		Timestamp:         now,
		TriggeredByUser:   triggeredByUser,
	}

	// the duplicate check runs against prior entries only, so a result
	// never suppresses itself
	dup := l.history.IsDuplicate(res.Text, now)
	l.history.Add(*res)

	l.mu.Lock()
	l.lastResult = res
	autoLog := l.autoLogging
	l.mu.Unlock()

	forwarded := false
	switch {
	case !autoLog || l.sink == nil:
	case dup:
		lgr.Printf("[DEBUG] duplicate within window, not forwarded: %q", truncate(res.Text, l.truncateLen))
	default:
		forwarded = true
		l.dispatch(ctx, res)
	}

	l.recordAnalysis(ctx, res, forwarded)

	lgr.Printf("[INFO] analyzed review: sentiment=%s confidence=%.1f%% user=%v", res.Sentiment, res.ConfidencePercent, triggeredByUser)
	return res, nil
}

// dispatch forwards the result to the sink, fire-and-forget. The call is
// detached from the request context so a returning caller cannot cancel it;
// failures are swallowed and only recorded for diagnostics.
func (l *Loop) dispatch(ctx context.Context, res *AnalysisResult) {
	meta, err := json.Marshal(map[string]interface{}{
		"label":              res.Label,
		"score":              res.Score,
		"confidence_percent": res.ConfidencePercent,
		"triggered_by_user":  res.TriggeredByUser,
		"source":             "reviewscope",
	})
	if err != nil {
		lgr.Printf("[WARN] failed to encode sink meta: %v", err)
		return
	}

	payload := sink.Payload{
		TsISO:     res.Timestamp.UTC().Format(time.RFC3339),
		Review:    res.Text,
		Sentiment: res.Sentiment,
		Meta:      string(meta),
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.sinkTimeout)
		defer cancel()

		if err := l.sink.Send(sctx, payload); err != nil {
			lgr.Printf("[WARN] sink dispatch failed: %v", err)
			l.recordFailure(sctx, "sink", err.Error(), res.TriggeredByUser)
		}
	}()
}

// SetAutoLogging toggles forwarding of new results to the sink
func (l *Loop) SetAutoLogging(enabled bool) {
	l.mu.Lock()
	l.autoLogging = enabled
	l.mu.Unlock()
	lgr.Printf("[INFO] auto-logging %s", map[bool]string{true: "enabled", false: "disabled"}[enabled])
}

// AutoLogging reports whether forwarding is enabled
func (l *Loop) AutoLogging() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.autoLogging
}

// History returns a copy of the bounded history buffer, oldest first
func (l *Loop) History() []Entry {
	return l.history.Entries()
}

// Status is a snapshot of the loop state for the status display
type Status struct {
	DatasetReady bool            `json:"dataset_ready"`
	ModelReady   bool            `json:"model_ready"`
	Busy         bool            `json:"busy"`
	AutoLogging  bool            `json:"auto_logging"`
	DatasetSize  int             `json:"dataset_size"`
	LastResult   *AnalysisResult `json:"last_result,omitempty"`
}

// Status returns the current loop state
func (l *Loop) Status() Status {
	busy := true
	if l.busy.TryLock() {
		l.busy.Unlock()
		busy = false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return Status{
		DatasetReady: l.datasetReady,
		ModelReady:   l.modelReady,
		Busy:         busy,
		AutoLogging:  l.autoLogging,
		DatasetSize:  len(l.reviews),
		LastResult:   l.lastResult,
	}
}

// recordAnalysis journals a completed analysis, best-effort
func (l *Loop) recordAnalysis(ctx context.Context, res *AnalysisResult, forwarded bool) {
	if l.journal == nil {
		return
	}
	rec := journal.Analysis{
		Timestamp:       res.Timestamp.UTC(),
		Review:          res.Text,
		Label:           res.Label,
		Sentiment:       res.Sentiment,
		Confidence:      res.ConfidencePercent,
		TriggeredByUser: res.TriggeredByUser,
		LoggedToSink:    forwarded,
	}
	if err := l.journal.RecordAnalysis(ctx, rec); err != nil {
		lgr.Printf("[WARN] failed to journal analysis: %v", err)
	}
}

// recordFailure journals a failure, best-effort
func (l *Loop) recordFailure(ctx context.Context, stage, message string, triggeredByUser bool) {
	if l.journal == nil {
		return
	}
	if err := l.journal.RecordFailure(ctx, stage, message, triggeredByUser); err != nil {
		lgr.Printf("[WARN] failed to journal failure: %v", err)
	}
}

// deriveSentiment maps the model's top label and score to a sentiment.
// A NEGATIVE label with score <= 0.5 comes out neutral rather than
// negative, matching the historical behavior of the original policy.
func deriveSentiment(label string, score float64) string {
	switch {
	case strings.Contains(label, "POSITIVE") && score > 0.5:
		return SentimentPositive
	case strings.Contains(label, "NEGATIVE") && score > 0.5:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// confidencePercent converts a unit score to a percentage with one decimal
func confidencePercent(score float64) float64 {
	return math.Round(score*1000) / 10
}
