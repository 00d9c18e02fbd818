// Package history keeps a local SQLite journal of deployment outcomes,
// one row per host per release.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Journal records deployment attempts in a SQLite database.
type Journal struct {
	db *sql.DB
}

// Open opens (and if needed initializes) the journal at the given path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) initSchema() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS deployments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			host TEXT NOT NULL,
			release_name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration_seconds REAL NOT NULL,
			error_message TEXT
		)
	`)
	if err != nil {
		return err
	}

	_, err = j.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_host_started
		ON deployments(host, started_at DESC)
	`)
	return err
}

// Record inserts one deployment attempt and returns its assigned ID.
func (j *Journal) Record(ctx context.Context, e *Entry) (int64, error) {
	var errMsg *string
	if e.Error != "" {
		errMsg = &e.Error
	}

	res, err := j.db.ExecContext(ctx, `
		INSERT INTO deployments (host, release_name, status, started_at, duration_seconds, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		e.Host,
		e.Release,
		e.Status,
		e.StartedAt.UTC().Format(time.RFC3339),
		e.Duration.Seconds(),
		errMsg,
	)
	if err != nil {
		return 0, fmt.Errorf("insert deployment record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get deployment record id: %w", err)
	}
	e.ID = id
	return id, nil
}

// LatestForHost returns the most recent deployment recorded for a host,
// or nil when none exists.
func (j *Journal) LatestForHost(ctx context.Context, host string) (*Entry, error) {
	rows, err := j.RecentForHost(ctx, host, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// RecentForHost returns up to limit deployments for a host, newest first.
func (j *Journal) RecentForHost(ctx context.Context, host string, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, host, release_name, status, started_at, duration_seconds, error_message
		FROM deployments
		WHERE host = ?
		ORDER BY id DESC
		LIMIT ?
	`, host, limit)
	if err != nil {
		return nil, fmt.Errorf("query deployment history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			started  string
			duration float64
			errMsg   sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Host, &e.Release, &e.Status, &started, &duration, &errMsg); err != nil {
			return nil, fmt.Errorf("scan deployment record: %w", err)
		}
		if e.StartedAt, err = time.Parse(time.RFC3339, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		e.Duration = time.Duration(duration * float64(time.Second))
		if errMsg.Valid {
			e.Error = errMsg.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
