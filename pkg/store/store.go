// Package store persists sessions and calibration logs in sqlite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/calibration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("store: not found")

// Store wraps the sqlite database.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One writer; sqlite serialises anyway and this keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, log: log.Component("store")}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MigrateUp applies every pending embedded migration.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: closing it would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the schema version and dirty flag. Version 0
// means no migration has run.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("store: migrations source: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("store: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("store: migrate instance: %w", err)
	}
	m.Log = &migrateLogger{log: s.log}
	return m, nil
}

// migrateLogger implements migrate.Logger
type migrateLogger struct {
	log *slog.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...), "source", "migrate")
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// SessionRecord is one persisted session.
type SessionRecord struct {
	ID        string     `json:"id"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, rec SessionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, pid, started_at) VALUES (?, ?, ?)`,
		rec.ID, rec.PID, rec.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: create session %s: %w", rec.ID, err)
	}
	return nil
}

// EndSession marks a session finished.
func (s *Store) EndSession(ctx context.Context, id string, endedAt time.Time, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, end_reason = ? WHERE id = ?`,
		endedAt.UnixNano(), reason, id)
	if err != nil {
		return fmt.Errorf("store: end session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: end session %s: %w", id, ErrNotFound)
	}
	return nil
}

// Session returns one session by id.
func (s *Store) Session(ctx context.Context, id string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pid, started_at, ended_at, end_reason FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// LatestSession returns the most recently started session.
func (s *Store) LatestSession(ctx context.Context) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, pid, started_at, ended_at, end_reason FROM sessions ORDER BY started_at DESC LIMIT 1`)
	return scanSession(row)
}

// Sessions returns up to limit sessions, newest first.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pid, started_at, ended_at, end_reason FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var (
		rec     SessionRecord
		started int64
		ended   sql.NullInt64
		reason  sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.PID, &started, &ended, &reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, ErrNotFound
		}
		return rec, fmt.Errorf("store: scan session: %w", err)
	}
	rec.StartedAt = time.Unix(0, started)
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		rec.EndedAt = &t
	}
	rec.EndReason = reason.String
	return rec, nil
}

// AppendEntry stores one calibration entry under its sequence number.
func (s *Store) AppendEntry(ctx context.Context, sessionID string, e calibration.Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calibration_entries
			(session_id, seq, timestamp, target_x, target_y, gaze_x, gaze_y, distance)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, e.Seq, e.Timestamp.UnixNano(), e.TargetX, e.TargetY,
		nullFloat(e.GazeX), nullFloat(e.GazeY), nullFloat(e.Distance))
	if err != nil {
		return fmt.Errorf("store: append entry %s/%d: %w", sessionID, e.Seq, err)
	}
	return nil
}

// Entries returns a session's calibration log in sequence order.
func (s *Store) Entries(ctx context.Context, sessionID string) ([]calibration.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, timestamp, target_x, target_y, gaze_x, gaze_y, distance
		 FROM calibration_entries WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("store: entries %s: %w", sessionID, err)
	}
	defer rows.Close()

	entries := []calibration.Entry{}
	for rows.Next() {
		var (
			e      calibration.Entry
			ts     int64
			gx, gy sql.NullFloat64
			d      sql.NullFloat64
		)
		if err := rows.Scan(&e.Seq, &ts, &e.TargetX, &e.TargetY, &gx, &gy, &d); err != nil {
			return nil, fmt.Errorf("store: scan entry: %w", err)
		}
		e.Timestamp = time.Unix(0, ts)
		e.GazeX, e.GazeY, e.Distance = floatPtr(gx), floatPtr(gy), floatPtr(d)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
