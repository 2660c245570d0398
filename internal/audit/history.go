package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/harun/openbot/pkg/command"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DispatchRecord is one row of the dispatch history.
type DispatchRecord struct {
	ID           int64
	InvocationID string
	At           time.Time
	UserID       string
	ChannelID    string
	Name         string // as typed
	Command      string // qualified name, empty when unresolved
	PluginID     string
	Outcome      string
	Duration     time.Duration
	Error        string
}

// History stores dispatch records in SQLite.
type History struct {
	db     *sql.DB
	logger zerolog.Logger
	keep   int
	writes atomic.Int64
}

// DefaultKeep is the number of records kept when pruning.
const DefaultKeep = 10000

const pruneEvery = 500

// OpenHistory opens (creating if needed) the history database at path. keep
// bounds the stored records; zero means DefaultKeep.
func OpenHistory(path string, keep int, logger zerolog.Logger) (*History, error) {
	if keep <= 0 {
		keep = DefaultKeep
	}
	if path == "" {
		return nil, errors.New("history path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	h := &History{
		db:     db,
		logger: logger.With().Str("component", "history").Logger(),
		keep:   keep,
	}
	if err := h.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return h, nil
}

func (h *History) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS dispatches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invocation_id TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			name TEXT NOT NULL,
			command TEXT NOT NULL DEFAULT '',
			plugin_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			duration_us INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_dispatches_at ON dispatches(at);
		CREATE INDEX IF NOT EXISTS idx_dispatches_user ON dispatches(user_id);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Record inserts rec. A zero At is set to now.
func (h *History) Record(ctx context.Context, rec DispatchRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO dispatches (invocation_id, at, user_id, channel_id, name, command, plugin_id, outcome, duration_us, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.InvocationID, rec.At.UnixNano(), rec.UserID, rec.ChannelID, rec.Name,
		rec.Command, rec.PluginID, rec.Outcome, rec.Duration.Microseconds(), rec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record dispatch: %w", err)
	}
	return nil
}

// Recent returns up to n records, newest first.
func (h *History) Recent(ctx context.Context, n int) ([]DispatchRecord, error) {
	return h.query(ctx, `
		SELECT id, invocation_id, at, user_id, channel_id, name, command, plugin_id, outcome, duration_us, error
		FROM dispatches ORDER BY id DESC LIMIT ?`, n)
}

// ByUser returns up to n records of userID, newest first.
func (h *History) ByUser(ctx context.Context, userID string, n int) ([]DispatchRecord, error) {
	return h.query(ctx, `
		SELECT id, invocation_id, at, user_id, channel_id, name, command, plugin_id, outcome, duration_us, error
		FROM dispatches WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, n)
}

func (h *History) query(ctx context.Context, q string, args ...any) ([]DispatchRecord, error) {
	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var out []DispatchRecord
	for rows.Next() {
		var (
			rec      DispatchRecord
			at       int64
			duration int64
		)
		if err := rows.Scan(&rec.ID, &rec.InvocationID, &at, &rec.UserID, &rec.ChannelID, &rec.Name,
			&rec.Command, &rec.PluginID, &rec.Outcome, &duration, &rec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		rec.At = time.Unix(0, at)
		rec.Duration = time.Duration(duration) * time.Microsecond
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (h *History) Count(ctx context.Context) (int, error) {
	var n int
	if err := h.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dispatches").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// Prune deletes all but the newest keep records.
func (h *History) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := h.db.ExecContext(ctx, `
		DELETE FROM dispatches WHERE id NOT IN (
			SELECT id FROM dispatches ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Observe implements command.Observer. Failures are logged, never returned.
func (h *History) Observe(ctx context.Context, msg command.Message, res command.Result) {
	if res.Outcome == command.Ignored {
		return
	}

	rec := DispatchRecord{
		InvocationID: res.InvocationID,
		UserID:       msg.UserID,
		ChannelID:    msg.ChannelID,
		Name:         res.Name,
		Outcome:      res.Outcome.String(),
		Duration:     res.Duration,
	}
	if res.Command != nil {
		rec.Command = res.Command.QualifiedName
		rec.PluginID = res.Command.PluginID
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}

	if err := h.Record(ctx, rec); err != nil {
		h.logger.Warn().Err(err).Str("command", res.Name).Msg("Failed to record dispatch history")
		return
	}

	if h.writes.Add(1)%pruneEvery == 0 {
		if n, err := h.Prune(ctx, h.keep); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to prune dispatch history")
		} else if n > 0 {
			h.logger.Debug().Int64("deleted", n).Msg("Pruned dispatch history")
		}
	}
}

// Close closes the database.
func (h *History) Close() error {
	return h.db.Close()
}
