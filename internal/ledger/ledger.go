// Package ledger keeps one sqlite row per run: what was generated, where it
// went, and how far the run got.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mikequentel/circlegram/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	image_path   TEXT NOT NULL DEFAULT '',
	object_key   TEXT NOT NULL DEFAULT '',
	public_url   TEXT NOT NULL DEFAULT '',
	container_id TEXT NOT NULL DEFAULT '',
	post_id      TEXT NOT NULL DEFAULT '',
	comment_id   TEXT NOT NULL DEFAULT '',
	tweet_id     TEXT NOT NULL DEFAULT '',
	stage        TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	started_at   TEXT NOT NULL,
	finished_at  TEXT NULL
);`

type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite file at path. ":memory:" works
// for tests.
func Open(ctx context.Context, path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger %s: create schema: %w", path, err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

// Begin records a new run and sets run.ID.
func (l *Ledger) Begin(ctx context.Context, run *model.Run) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, name, image_path, stage, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.Name, run.ImagePath, run.Stage, run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	run.ID, err = res.LastInsertId()
	return err
}

// Update stores the current state of a run started with Begin.
func (l *Ledger) Update(ctx context.Context, run *model.Run) error {
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Format(time.RFC3339Nano)
	}
	res, err := l.db.ExecContext(ctx, `
UPDATE runs SET
	name = ?, image_path = ?, object_key = ?, public_url = ?,
	container_id = ?, post_id = ?, comment_id = ?, tweet_id = ?,
	stage = ?, error = ?, finished_at = ?
WHERE id = ?`,
		run.Name, run.ImagePath, run.ObjectKey, run.PublicURL,
		run.ContainerID, run.PostID, run.CommentID, run.TweetID,
		run.Stage, run.Error, finished, run.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no run with id %d", run.ID)
	}
	return nil
}

const selectRuns = `
SELECT id, run_id, name, image_path, object_key, public_url,
       container_id, post_id, comment_id, tweet_id, stage, error,
       started_at, finished_at
FROM runs`

// Recent returns up to limit runs, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, selectRuns+` ORDER BY id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

var ErrNotFound = errors.New("run not found")

// Get returns the run with the given row id.
func (l *Ledger) Get(ctx context.Context, id int64) (*model.Run, error) {
	r, err := scanRun(l.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?;`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*model.Run, error) {
	var r model.Run
	var started string
	var finished sql.NullString
	if err := s.Scan(&r.ID, &r.RunID, &r.Name, &r.ImagePath, &r.ObjectKey, &r.PublicURL,
		&r.ContainerID, &r.PostID, &r.CommentID, &r.TweetID, &r.Stage, &r.Error,
		&started, &finished); err != nil {
		return nil, err
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("run %d: started_at: %w", r.ID, err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return nil, fmt.Errorf("run %d: finished_at: %w", r.ID, err)
		}
		r.FinishedAt = &t
	}
	return &r, nil
}
