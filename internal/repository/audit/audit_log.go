/*
Package audit keeps a local SQLite trail of routing decisions.

Queries are stored as SHA256 hashes only. The database uses modernc.org/sqlite
(pure Go, no CGo), so the trail works in the same static binary as the API.
*/
package audit

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"procedure-assistant-be/internal/pkg/logger"

	_ "modernc.org/sqlite"
)

const module = "AUDIT"

const (
	KindAnswer        = "answer"
	KindClarification = "clarification"
)

// Record is one routed turn.
type Record struct {
	ID           int64
	SessionID    string
	QueryHash    string
	At           time.Time
	Kind         string
	Stage        string
	CollectionID string
	DocumentID   string
	Score        float64
	Level        string
	Source       string
	Overridden   bool
	TrustApplied bool
	Degraded     string
}

type Summary struct {
	Total          int
	Answers        int
	Clarifications int
	Overridden     int
	Degraded       int
	ByLevel        map[string]int
}

type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

type SQLiteAuditLog struct {
	db     *sql.DB
	path   string
	mu     sync.Mutex
	logger logger.ILogger
}

// NewSQLiteAuditLog opens (and migrates) the audit database. ":memory:" is accepted.
func NewSQLiteAuditLog(ctx context.Context, path string, log logger.ILogger) (*SQLiteAuditLog, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping audit database: %w", err)
	}

	a := &SQLiteAuditLog{db: db, path: path, logger: log}
	if err := a.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run audit migrations: %w", err)
	}
	return a, nil
}

func (a *SQLiteAuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}

// HashQuery creates a SHA256 hash of a query string for privacy.
func HashQuery(query string) string {
	hash := sha256.Sum256([]byte(query))
	return hex.EncodeToString(hash[:])
}

func (a *SQLiteAuditLog) Record(ctx context.Context, rec Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO routing_decisions
			(session_id, query_hash, at_ms, kind, stage, collection_id, document_id,
			 score, level, source, overridden, trust_applied, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SessionID, rec.QueryHash, rec.At.UnixMilli(), rec.Kind, rec.Stage, rec.CollectionID, rec.DocumentID,
		rec.Score, rec.Level, rec.Source, boolToInt(rec.Overridden), boolToInt(rec.TrustApplied), rec.Degraded,
	)
	if err != nil {
		return fmt.Errorf("failed to record routing decision: %w", err)
	}
	return nil
}

// List returns records at or after since, newest first.
func (a *SQLiteAuditLog) List(ctx context.Context, since time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.QueryContext(ctx, `
		SELECT id, session_id, query_hash, at_ms, kind, stage, collection_id, document_id,
		       score, level, source, overridden, trust_applied, degraded
		FROM routing_decisions
		WHERE at_ms >= ?
		ORDER BY at_ms DESC, id DESC
		LIMIT ?
	`, since.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query routing decisions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec                     Record
			atMs                    int64
			overridden, trustWasSet int
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.QueryHash, &atMs, &rec.Kind, &rec.Stage,
			&rec.CollectionID, &rec.DocumentID, &rec.Score, &rec.Level, &rec.Source,
			&overridden, &trustWasSet, &rec.Degraded); err != nil {
			return nil, fmt.Errorf("failed to scan routing decision: %w", err)
		}
		rec.At = time.UnixMilli(atMs)
		rec.Overridden = overridden == 1
		rec.TrustApplied = trustWasSet == 1
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *SQLiteAuditLog) Summarize(ctx context.Context, since time.Time) (*Summary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	rows, err := a.db.QueryContext(ctx, `
		SELECT kind, level, overridden, CASE WHEN degraded = '' THEN 0 ELSE 1 END AS is_degraded, COUNT(*)
		FROM routing_decisions
		WHERE at_ms >= ?
		GROUP BY kind, level, overridden, is_degraded
	`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to summarize routing decisions: %w", err)
	}
	defer rows.Close()

	s := &Summary{ByLevel: map[string]int{}}
	for rows.Next() {
		var (
			kind, level          string
			overridden, degraded int
			count                int
		)
		if err := rows.Scan(&kind, &level, &overridden, &degraded, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		s.Total += count
		switch kind {
		case KindAnswer:
			s.Answers += count
		case KindClarification:
			s.Clarifications += count
		}
		if overridden == 1 {
			s.Overridden += count
		}
		if degraded == 1 {
			s.Degraded += count
		}
		if level != "" {
			s.ByLevel[level] += count
		}
	}
	return s, rows.Err()
}

// Cleanup removes records older than retention.
func (a *SQLiteAuditLog) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := a.db.ExecContext(ctx, "DELETE FROM routing_decisions WHERE at_ms < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup routing decisions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		a.logger.Info(module, "Audit records cleaned up", map[string]interface{}{"deleted": n})
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
