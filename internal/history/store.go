// Package history keeps a SQLite record of finished delegation sessions and
// derives lifetime delegation metrics from it.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/logging"
)

//go:embed schema.sql
var schema string

// busyTimeout bounds how long a write waits on another process's lock.
const busyTimeout = 5 * time.Second

// Store is a history database. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// SessionRecord is one recorded session.
type SessionRecord struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	Aborted        bool      `json:"aborted"`
	CompletedCount int       `json:"completed_count"`
	FailedCount    int       `json:"failed_count"`
	SkippedCount   int       `json:"skipped_count"`
	AbortedCount   int       `json:"aborted_count"`
	KeepLocalCount int       `json:"keep_local_count"`
	TokensSaved    int       `json:"tokens_saved"`
}

// WorkerStats aggregates outcomes for one worker type.
type WorkerStats struct {
	WorkerType  string `json:"worker_type"`
	Delegations int    `json:"delegations"`
	Completed   int    `json:"completed"`
	Failed      int    `json:"failed"`
	TokensSaved int    `json:"tokens_saved"`
}

// Stats are lifetime delegation metrics.
type Stats struct {
	Sessions    int           `json:"sessions"`
	Delegations int           `json:"delegations"`
	Completed   int           `json:"completed"`
	Failed      int           `json:"failed"`
	Skipped     int           `json:"skipped"`
	Aborted     int           `json:"aborted"`
	TokensSaved int           `json:"tokens_saved"`
	ByWorker    []WorkerStats `json:"by_worker"`
}

// SuccessRate is completed over completed plus failed, or 0 when nothing
// has finished.
func (s Stats) SuccessRate() float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 0
	}
	return float64(s.Completed) / float64(finished)
}

// Open opens (creating if needed) the history database at path and applies
// the schema. logger may be nil.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("history path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	// one writer keeps SQLite from returning SQLITE_BUSY within a process
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate history: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores a session synthesis. Recording the same session again
// replaces the earlier record.
func (s *Store) Record(ctx context.Context, syn delegation.Synthesis) error {
	if syn.SessionID == "" {
		return errors.New("synthesis has no session id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE session_id = ?`, syn.SessionID); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(id, started_at, completed_at, aborted, completed_count, failed_count,
		     skipped_count, aborted_count, keep_local_count, tokens_saved)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		     started_at=excluded.started_at, completed_at=excluded.completed_at, aborted=excluded.aborted,
		     completed_count=excluded.completed_count, failed_count=excluded.failed_count,
		     skipped_count=excluded.skipped_count, aborted_count=excluded.aborted_count,
		     keep_local_count=excluded.keep_local_count, tokens_saved=excluded.tokens_saved`,
		syn.SessionID, formatTime(syn.StartedAt), formatTime(syn.CompletedAt), syn.Aborted,
		syn.CompletedCount, syn.FailedCount, syn.SkippedCount, syn.AbortedCount,
		syn.KeepLocalCount, syn.TotalEstimatedSavings,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO tasks(session_id, task_id, description, rule, worker_type, state, failure_reason,
		     estimated_savings, attempts, duration_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare task insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, t := range syn.Summaries {
		_, err := stmt.ExecContext(ctx,
			syn.SessionID, t.TaskID, t.Description, t.Rule, t.WorkerType, string(t.State),
			nullStr(t.FailureReason), t.EstimatedSavings, t.Attempts, t.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.TaskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("session recorded",
		"session_id", syn.SessionID,
		"tasks", len(syn.Summaries),
		"tokens_saved", syn.TotalEstimatedSavings,
	)
	return nil
}

// Sessions returns the most recently completed sessions, newest first.
// limit <= 0 returns all of them.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	query := `SELECT id, started_at, completed_at, aborted, completed_count, failed_count,
	              skipped_count, aborted_count, keep_local_count, tokens_saved
	          FROM sessions ORDER BY completed_at DESC, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SessionRecord
	for rows.Next() {
		var (
			rec              SessionRecord
			started, stopped string
		)
		if err := rows.Scan(&rec.ID, &started, &stopped, &rec.Aborted, &rec.CompletedCount,
			&rec.FailedCount, &rec.SkippedCount, &rec.AbortedCount, &rec.KeepLocalCount, &rec.TokensSaved); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.StartedAt = parseTime(started)
		rec.CompletedAt = parseTime(stopped)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Stats computes lifetime metrics over every recorded session.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens_saved), 0) FROM sessions`,
	).Scan(&st.Sessions, &st.TokensSaved)
	if err != nil {
		return Stats{}, fmt.Errorf("query session totals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT worker_type, state, COUNT(*), COALESCE(SUM(estimated_savings), 0)
		 FROM tasks GROUP BY worker_type, state ORDER BY worker_type`)
	if err != nil {
		return Stats{}, fmt.Errorf("query task totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byWorker := make(map[string]*WorkerStats)
	var order []string
	for rows.Next() {
		var (
			workerType, state string
			count, savings    int
		)
		if err := rows.Scan(&workerType, &state, &count, &savings); err != nil {
			return Stats{}, fmt.Errorf("scan task totals: %w", err)
		}
		ws, ok := byWorker[workerType]
		if !ok {
			ws = &WorkerStats{WorkerType: workerType}
			byWorker[workerType] = ws
			order = append(order, workerType)
		}
		ws.Delegations += count
		st.Delegations += count
		switch delegation.TaskState(state) {
		case delegation.TaskDone:
			ws.Completed += count
			ws.TokensSaved += savings
			st.Completed += count
		case delegation.TaskFailed:
			ws.Failed += count
			st.Failed += count
		case delegation.TaskSkipped:
			st.Skipped += count
		case delegation.TaskAborted:
			st.Aborted += count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	for _, wt := range order {
		st.ByWorker = append(st.ByWorker, *byWorker[wt])
	}
	return st, nil
}

// Prune deletes sessions that completed before cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTime(cutoff)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tasks WHERE session_id IN (SELECT id FROM sessions WHERE completed_at < ?)`, ts); err != nil {
		return 0, fmt.Errorf("prune tasks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE completed_at < ?`, ts)
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(n), nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
