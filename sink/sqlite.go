package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"printmaster/fleetscan/collector"
)

// ErrNoSnapshot is returned by Latest before the first report is stored.
var ErrNoSnapshot = errors.New("no snapshot stored")

const schema = `
CREATE TABLE IF NOT EXISTS cycle (
	id          TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS devices (
	seq           INTEGER PRIMARY KEY,
	ip            TEXT NOT NULL,
	name          TEXT NOT NULL,
	status        TEXT NOT NULL,
	last_update   TEXT NOT NULL,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	extra         TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS consumables (
	device_seq INTEGER NOT NULL REFERENCES devices(seq) ON DELETE CASCADE,
	slot       INTEGER NOT NULL,
	name       TEXT NOT NULL,
	category   TEXT NOT NULL,
	color      TEXT NOT NULL,
	level      INTEGER NOT NULL,
	PRIMARY KEY (device_seq, slot)
);
`

// SQLite keeps the latest report in a database file. Each Store replaces
// the previous snapshot; no history is kept.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the snapshot database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer keeps the delete-and-replace transaction simple.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 30000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Store replaces the stored snapshot with cycle in one transaction.
func (s *SQLite) Store(ctx context.Context, cycle *collector.Cycle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{"DELETE FROM consumables", "DELETE FROM devices", "DELETE FROM cycle"} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("clear snapshot: %w", err)
		}
	}

	ok, failed := cycle.Report.Tally()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO cycle (id, started_at, finished_at, succeeded, failed) VALUES (?, ?, ?, ?, ?)`,
		cycle.ID, cycle.StartedAt.Format(time.RFC3339Nano), cycle.FinishedAt.Format(time.RFC3339Nano), ok, failed,
	); err != nil {
		return fmt.Errorf("insert cycle: %w", err)
	}

	for _, res := range cycle.Report {
		extra := []byte("{}")
		if len(res.Extra) > 0 {
			if extra, err = json.Marshal(res.Extra); err != nil {
				return fmt.Errorf("encode metadata for %s: %w", res.Address, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO devices (seq, ip, name, status, last_update, error_kind, error_message, extra)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.SequenceID, res.Address, res.DisplayName, string(res.Status),
			res.Timestamp.Format(collector.TimestampLayout), string(res.ErrorKind), res.ErrorMessage, string(extra),
		); err != nil {
			return fmt.Errorf("insert device %s: %w", res.Address, err)
		}
		for slot, c := range res.Consumables {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO consumables (device_seq, slot, name, category, color, level) VALUES (?, ?, ?, ?, ?, ?)`,
				res.SequenceID, slot, c.Name, string(c.Category), c.Category.Color(), c.Level,
			); err != nil {
				return fmt.Errorf("insert consumable for %s: %w", res.Address, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Latest reads the stored snapshot back. Returns ErrNoSnapshot when empty.
func (s *SQLite) Latest(ctx context.Context) (*collector.Cycle, error) {
	var (
		cycle             collector.Cycle
		started, finished string
		okCount, failed   int
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, started_at, finished_at, succeeded, failed FROM cycle LIMIT 1`).
		Scan(&cycle.ID, &started, &finished, &okCount, &failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("query cycle: %w", err)
	}
	if cycle.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if cycle.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return nil, fmt.Errorf("parse finished_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, ip, name, status, last_update, error_kind, error_message, extra FROM devices ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	bySeq := make(map[int]int)
	for rows.Next() {
		var (
			res        collector.DeviceResult
			status     string
			lastUpdate string
			kind       string
			extra      string
		)
		if err := rows.Scan(&res.SequenceID, &res.Address, &res.DisplayName, &status, &lastUpdate, &kind, &res.ErrorMessage, &extra); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan device: %w", err)
		}
		res.Status = collector.Status(status)
		res.ErrorKind = collector.ErrorKind(kind)
		res.Consumables = []collector.ConsumableReading{}
		if res.Timestamp, err = time.ParseInLocation(collector.TimestampLayout, lastUpdate, time.Local); err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse last_update: %w", err)
		}
		if extra != "" && extra != "{}" {
			if err := json.Unmarshal([]byte(extra), &res.Extra); err != nil {
				rows.Close()
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		bySeq[res.SequenceID] = len(cycle.Report)
		cycle.Report = append(cycle.Report, res)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	crows, err := s.db.QueryContext(ctx,
		`SELECT device_seq, name, category, level FROM consumables ORDER BY device_seq, slot`)
	if err != nil {
		return nil, fmt.Errorf("query consumables: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var (
			seq      int
			c        collector.ConsumableReading
			category string
		)
		if err := crows.Scan(&seq, &c.Name, &category, &c.Level); err != nil {
			return nil, fmt.Errorf("scan consumable: %w", err)
		}
		c.Category = collector.Category(category)
		if i, ok := bySeq[seq]; ok {
			cycle.Report[i].Consumables = append(cycle.Report[i].Consumables, c)
		}
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}
	return &cycle, nil
}
