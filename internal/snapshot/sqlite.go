package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	cron "github.com/netresearch/go-cron"
	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	generated_at TEXT    NOT NULL,
	task_count   INTEGER NOT NULL,
	body         TEXT    NOT NULL
);
`

// SQLiteStore appends every snapshot as a row; Load returns the newest one.
// Old rows are trimmed by Prune.
type SQLiteStore struct {
	db     *sql.DB
	pruner *cron.Cron
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the snapshots table exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Save inserts a new snapshot row.
func (s *SQLiteStore) Save(ctx context.Context, snap Snapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (generated_at, task_count, body) VALUES (?, ?, ?)`,
		snap.GeneratedAt.UTC().Format(time.RFC3339Nano), len(snap.TaskQueue), string(body),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Load returns the most recently inserted snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM snapshots ORDER BY id DESC LIMIT 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("query snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, true, nil
}

// Count returns the number of stored snapshots.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// Prune deletes all but the newest keep snapshots and returns how many rows
// were removed.
func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// StartPruner runs Prune on the given cron schedule (e.g. "@every 10m").
func (s *SQLiteStore) StartPruner(schedule string, keep int) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := s.Prune(ctx, keep)
		if err != nil {
			slog.Error("prune snapshots", "error", err)
			return
		}
		if n > 0 {
			slog.Debug("snapshots pruned", "removed", n, "kept", keep)
		}
	}); err != nil {
		return fmt.Errorf("schedule snapshot pruning %q: %w", schedule, err)
	}
	c.Start()
	s.pruner = c
	return nil
}

// Close stops the pruner and releases the database.
func (s *SQLiteStore) Close() error {
	if s.pruner != nil {
		s.pruner.Stop()
	}
	return s.db.Close()
}
