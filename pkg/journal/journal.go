// Package journal records analysis outcomes and failures in SQLite for
// diagnostics. It is write-mostly and entirely optional: the analysis loop
// works the same with the journal disabled, and duplicate suppression never
// reads from it.
package journal

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"reviewscope/pkg/config"
)

//go:embed schema.sql
var schema string

// Journal wraps the database connection for diagnostics records
type Journal struct {
	conn *sqlx.DB
}

// Analysis is a recorded analysis outcome
type Analysis struct {
	ID              int64     `db:"id" json:"id"`
	Timestamp       time.Time `db:"ts" json:"ts"`
	Review          string    `db:"review" json:"review"`
	Label           string    `db:"label" json:"label"`
	Sentiment       string    `db:"sentiment" json:"sentiment"`
	Confidence      float64   `db:"confidence" json:"confidence"`
	TriggeredByUser bool      `db:"triggered_by_user" json:"triggered_by_user"`
	LoggedToSink    bool      `db:"logged_to_sink" json:"logged_to_sink"`
}

// Failure is a recorded analysis or dispatch failure
type Failure struct {
	ID              int64     `db:"id" json:"id"`
	Timestamp       time.Time `db:"ts" json:"ts"`
	Stage           string    `db:"stage" json:"stage"`
	Message         string    `db:"message" json:"message"`
	TriggeredByUser bool      `db:"triggered_by_user" json:"triggered_by_user"`
}

// New opens the journal database and initializes its schema
func New(cfg config.JournalConfig) (*Journal, error) {
	conn, err := sqlx.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		return nil, fmt.Errorf("init journal schema: %w", err)
	}

	return &Journal{conn: conn}, nil
}

// Close closes the database connection
func (j *Journal) Close() error {
	return j.conn.Close()
}

// RecordAnalysis stores a completed analysis outcome
func (j *Journal) RecordAnalysis(ctx context.Context, rec Analysis) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			INSERT INTO analyses (ts, review, label, sentiment, confidence, triggered_by_user, logged_to_sink)
			VALUES (:ts, :review, :label, :sentiment, :confidence, :triggered_by_user, :logged_to_sink)
		`
		_, err := j.conn.NamedExecContext(ctx, query, rec)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("record analysis: %w", err)}
		}
		return nil
	})
}

// RecordFailure stores an analysis or dispatch failure
func (j *Journal) RecordFailure(ctx context.Context, stage, message string, triggeredByUser bool) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			INSERT INTO failures (ts, stage, message, triggered_by_user)
			VALUES (?, ?, ?, ?)
		`
		_, err := j.conn.ExecContext(ctx, query, time.Now().UTC(), stage, message, triggeredByUser)
		if err != nil {
			if isLockError(err) {
				return err // retry
			}
			return &criticalError{err: fmt.Errorf("record failure: %w", err)}
		}
		return nil
	})
}

// RecentFailures returns the most recent failures, newest first
func (j *Journal) RecentFailures(ctx context.Context, limit int) ([]Failure, error) {
	var failures []Failure
	err := j.conn.SelectContext(ctx, &failures,
		"SELECT * FROM failures ORDER BY ts DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("get recent failures: %w", err)
	}
	return failures, nil
}

// criticalError wraps an error to signal repeater to stop retrying
type criticalError struct {
	err error
}

func (e *criticalError) Error() string {
	return e.err.Error()
}

// isLockError checks if an error is a SQLite lock/busy error
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked")
}
