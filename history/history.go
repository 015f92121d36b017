// Package history keeps a local SQLite log of published readings.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rwirdemann/rtusensors/telemetry"
	_ "modernc.org/sqlite"
)

const createReadingsSQL = `
CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ts INTEGER NOT NULL,
    name TEXT NOT NULL,
    value REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_ts ON readings (ts);`

// Reading is one logged sample.
type Reading struct {
	Timestamp time.Time
	Name      string
	Value     float64
}

// History is a telemetry.Publisher that appends every sample to the readings
// table.
type History struct {
	db *sql.DB
}

var _ telemetry.Publisher = (*History)(nil)

// Open opens or creates the database at path.
func Open(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases alive and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(createReadingsSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create readings table in %s: %w", path, err)
	}
	return &History{db: db}, nil
}

// Publish stores all samples of b in one transaction.
func (h *History) Publish(ctx context.Context, b telemetry.Batch) error {
	if len(b) == 0 {
		return nil
	}
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO readings(ts, name, value) VALUES(?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := b[name]
		if _, err := stmt.ExecContext(ctx, s.Timestamp.UnixMilli(), name, s.Value); err != nil {
			return fmt.Errorf("insert %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Recent returns the latest n readings, newest first.
func (h *History) Recent(ctx context.Context, n int) ([]Reading, error) {
	rows, err := h.db.QueryContext(ctx, "SELECT ts, name, value FROM readings ORDER BY ts DESC, id DESC LIMIT ?", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rr []Reading
	for rows.Next() {
		var (
			ts int64
			r  Reading
		)
		if err := rows.Scan(&ts, &r.Name, &r.Value); err != nil {
			return nil, err
		}
		r.Timestamp = time.UnixMilli(ts)
		rr = append(rr, r)
	}
	return rr, rows.Err()
}

func (h *History) Close() error {
	return h.db.Close()
}
