// Package sqlite provides a SQLite-backed implementation of storage.Storage.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eugenenazirov/liasse-counter/internal/liasse"
	"github.com/eugenenazirov/liasse-counter/internal/storage"
	"github.com/eugenenazirov/liasse-counter/internal/storage/sqlite/migrations"
)

// Store persists pile slots and completed bundles in SQLite.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Load returns the stored state; an unknown denomination yields an empty state.
func (s *Store) Load(ctx context.Context, denomination string) (liasse.State, error) {
	if err := ctx.Err(); err != nil {
		return liasse.State{}, err
	}
	if err := storage.ValidateDenomination(denomination); err != nil {
		return liasse.State{}, err
	}
	if s == nil || s.sqlDB == nil {
		return liasse.State{}, fmt.Errorf("storage is not configured")
	}

	piles, err := s.loadPiles(ctx, denomination)
	if err != nil {
		return liasse.State{}, err
	}
	completed, err := s.loadCompleted(ctx, denomination)
	if err != nil {
		return liasse.State{}, err
	}
	return liasse.State{Piles: piles, Completed: completed}, nil
}

func (s *Store) loadPiles(ctx context.Context, denomination string) ([]int, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT slot, amount FROM piles WHERE denomination = ? ORDER BY slot`,
		denomination,
	)
	if err != nil {
		return nil, fmt.Errorf("query piles: %w", err)
	}
	defer rows.Close()

	piles := []int{}
	for rows.Next() {
		var slot, amount int
		if err := rows.Scan(&slot, &amount); err != nil {
			return nil, fmt.Errorf("scan pile: %w", err)
		}
		for len(piles) < slot {
			piles = append(piles, 0)
		}
		piles = append(piles, amount)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate piles: %w", err)
	}
	return piles, nil
}

func (s *Store) loadCompleted(ctx context.Context, denomination string) ([]liasse.Bundle, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT timestamp, number, total, steps_json FROM completed_bundles
		 WHERE denomination = ? ORDER BY position`,
		denomination,
	)
	if err != nil {
		return nil, fmt.Errorf("query completed bundles: %w", err)
	}
	defer rows.Close()

	completed := []liasse.Bundle{}
	for rows.Next() {
		var (
			bundle    liasse.Bundle
			stepsJSON string
		)
		if err := rows.Scan(&bundle.Timestamp, &bundle.Number, &bundle.Total, &stepsJSON); err != nil {
			return nil, fmt.Errorf("scan completed bundle: %w", err)
		}
		if err := json.Unmarshal([]byte(stepsJSON), &bundle.Steps); err != nil {
			return nil, fmt.Errorf("decode steps of bundle %d: %w", bundle.Timestamp, err)
		}
		bundle.IsComplete = true
		completed = append(completed, bundle)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate completed bundles: %w", err)
	}
	return completed, nil
}

// Save replaces both collections of a denomination in a single transaction.
func (s *Store) Save(ctx context.Context, denomination string, state liasse.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := storage.ValidateDenomination(denomination); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save transaction: %w", err)
	}
	if err := saveTx(ctx, tx, denomination, state); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save transaction: %w", err)
	}
	return nil
}

func saveTx(ctx context.Context, tx *sql.Tx, denomination string, state liasse.State) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM piles WHERE denomination = ?`, denomination); err != nil {
		return fmt.Errorf("clear piles: %w", err)
	}
	for slot, amount := range state.Piles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO piles (denomination, slot, amount) VALUES (?, ?, ?)`,
			denomination, slot, amount,
		); err != nil {
			return fmt.Errorf("insert pile %d: %w", slot, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM completed_bundles WHERE denomination = ?`, denomination); err != nil {
		return fmt.Errorf("clear completed bundles: %w", err)
	}
	for position, bundle := range state.Completed {
		steps, err := json.Marshal(bundle.Steps)
		if err != nil {
			return fmt.Errorf("encode steps of bundle %d: %w", bundle.Timestamp, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO completed_bundles (denomination, position, timestamp, number, total, steps_json)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			denomination, position, bundle.Timestamp, bundle.Number, bundle.Total, string(steps),
		); err != nil {
			return fmt.Errorf("insert completed bundle %d: %w", bundle.Timestamp, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO denominations (name, updated_at) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at`,
		denomination, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record denomination: %w", err)
	}
	return nil
}

// Denominations returns the saved denominations in lexical order.
func (s *Store) Denominations(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM denominations ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query denominations: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan denomination: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate denominations: %w", err)
	}
	return names, nil
}
