// Package history records finished playback sessions in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/go-drift/videoplayer/internal/metrics"
	"github.com/go-drift/videoplayer/pkg/player"
)

// Entry is one finished session.
type Entry struct {
	ID         int64     `json:"id"`
	PlayerID   int64     `json:"playerId"`
	URI        string    `json:"uri"`
	PositionMs int64     `json:"positionMs"`
	DurationMs int64     `json:"durationMs"`
	Completed  bool      `json:"completed"`
	EndedAt    time.Time `json:"endedAt"`
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path. ":memory:" gives a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS playback_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			player_id INTEGER NOT NULL,
			uri TEXT NOT NULL,
			position_ms INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			completed INTEGER NOT NULL DEFAULT 0,
			ended_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_history_ended_at ON playback_history(ended_at);
		CREATE INDEX IF NOT EXISTS idx_history_uri ON playback_history(uri);
	`)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a session summary.
func (s *Store) Record(ctx context.Context, sum player.Summary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playback_history (player_id, uri, position_ms, duration_ms, completed, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sum.ID, sum.URI, sum.PositionMs, sum.DurationMs, sum.Completed, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, player_id, uri, position_ms, duration_ms, completed, ended_at
		FROM playback_history
		ORDER BY ended_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var endedAt int64
		if err := rows.Scan(&e.ID, &e.PlayerID, &e.URI, &e.PositionMs, &e.DurationMs, &e.Completed, &endedAt); err != nil {
			return nil, err
		}
		e.EndedAt = time.UnixMilli(endedAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastPosition returns where playback of uri last stopped, unless it ran to
// the end.
func (s *Store) LastPosition(ctx context.Context, uri string) (int64, bool, error) {
	var pos int64
	var completed bool
	err := s.db.QueryRowContext(ctx, `
		SELECT position_ms, completed FROM playback_history
		WHERE uri = ?
		ORDER BY ended_at DESC, id DESC
		LIMIT 1
	`, uri).Scan(&pos, &completed)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("history: query: %w", err)
	}
	if completed {
		return 0, false, nil
	}
	return pos, true, nil
}

// Recorder returns a session-end callback that writes to s. Failures are
// logged and counted; they never reach the player.
func (s *Store) Recorder(logger logrus.FieldLogger) func(player.Summary) {
	return func(sum player.Summary) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, sum); err != nil {
			metrics.HistoryWriteErrors.Inc()
			logger.WithError(err).WithField("player", sum.ID).Warn("playback history not saved")
		}
	}
}
