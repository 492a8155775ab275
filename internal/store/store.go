// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store keeps a history of streaming runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Run is one row of the runs table.
type Run struct {
	ID         string     `json:"run_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Variant    string     `json:"variant"`
	Model      string     `json:"model"`
	Samples    int        `json:"samples"`
	Summary
}

// Summary is what a run reports when it ends.
type Summary struct {
	StepsOK        int     `json:"steps_ok"`
	StepsEmpty     int     `json:"steps_empty"`
	StepsFailed    int     `json:"steps_failed"`
	Emits          uint64  `json:"emits"`
	Dropped        uint64  `json:"dropped"`
	TicksCoalesced uint64  `json:"ticks_coalesced"`
	AvgMs          float64 `json:"avg_ms"`
	MinMs          float64 `json:"min_ms"`
	MaxMs          float64 `json:"max_ms"`
	StopReason     string  `json:"stop_reason,omitempty"`
}

// Failure is one failed step.
type Failure struct {
	RunID       string    `json:"run_id"`
	SampleIndex int       `json:"sample_index"`
	Attempt     int       `json:"attempt"`
	Stage       string    `json:"stage"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

// Store wraps the run history database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open run db: %w", err)
	}
	// The loop and the web handlers share a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open run db: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// Note: m is not closed because that would close the underlying DB.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun inserts a new run and returns its id.
func (s *Store) StartRun(ctx context.Context, variant, model string, samples int) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at_ms, variant, model, samples) VALUES (?, ?, ?, ?, ?)`,
		id, time.Now().UnixMilli(), variant, model, samples,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecordFailure stores one failed step.
func (s *Store) RecordFailure(ctx context.Context, f Failure) error {
	at := f.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_failures (run_id, sample_index, attempt, stage, message, at_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		f.RunID, f.SampleIndex, f.Attempt, f.Stage, f.Message, at.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, sum Summary) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			finished_at_ms = ?, steps_ok = ?, steps_empty = ?, steps_failed = ?,
			emits = ?, dropped = ?, ticks_coalesced = ?,
			avg_ms = ?, min_ms = ?, max_ms = ?, stop_reason = ?
		WHERE run_id = ?`,
		time.Now().UnixMilli(), sum.StepsOK, sum.StepsEmpty, sum.StepsFailed,
		int64(sum.Emits), int64(sum.Dropped), int64(sum.TicksCoalesced),
		sum.AvgMs, sum.MinMs, sum.MaxMs, sum.StopReason,
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at_ms, finished_at_ms, variant, model, samples,
			steps_ok, steps_empty, steps_failed, emits, dropped, ticks_coalesced,
			avg_ms, min_ms, max_ms, COALESCE(stop_reason, '')
		FROM runs ORDER BY started_at_ms DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r        Run
			started  int64
			finished sql.NullInt64
			emits    int64
			dropped  int64
			ticks    int64
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Variant, &r.Model, &r.Samples,
			&r.StepsOK, &r.StepsEmpty, &r.StepsFailed, &emits, &dropped, &ticks,
			&r.AvgMs, &r.MinMs, &r.MaxMs, &r.StopReason); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			t := time.UnixMilli(finished.Int64)
			r.FinishedAt = &t
		}
		r.Emits, r.Dropped, r.TicksCoalesced = uint64(emits), uint64(dropped), uint64(ticks)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Failures returns the failed steps of a run in insertion order.
func (s *Store) Failures(ctx context.Context, runID string) ([]Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, sample_index, attempt, stage, message, at_ms
		FROM step_failures WHERE run_id = ? ORDER BY failure_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var at int64
		if err := rows.Scan(&f.RunID, &f.SampleIndex, &f.Attempt, &f.Stage, &f.Message, &at); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		f.At = time.UnixMilli(at)
		out = append(out, f)
	}
	return out, rows.Err()
}
