// Package seedstore persists exported memory bundles in PostgreSQL so a
// node can restore or audit earlier states.
package seedstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrNotFound is returned when no bundle matches a lookup.
var ErrNotFound = errors.New("seedstore: bundle not found")

// Record is one stored bundle.
type Record struct {
	ID        string    `json:"id"`
	NodeID    string    `json:"node_id"`
	SessionID string    `json:"session_id"`
	Digest    string    `json:"digest"`
	Bundle    string    `json:"bundle,omitempty"`
	Concepts  int       `json:"concepts"`
	Episodes  int       `json:"episodes"`
	CreatedAt time.Time `json:"created_at"`
}

// Store wraps a PostgreSQL connection pool.
type Store struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Store with a pgx connection pool.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Store{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations directory
// in lexical order.
func (s *Store) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := s.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		s.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Save stores rec and reports whether a new row was written. A bundle whose
// digest is already stored is skipped.
func (s *Store) Save(ctx context.Context, rec Record) (bool, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		INSERT INTO seed_bundles (node_id, session_id, digest, bundle, concepts, episodes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (digest) DO NOTHING
		RETURNING id`,
		rec.NodeID, rec.SessionID, rec.Digest, rec.Bundle, rec.Concepts, rec.Episodes,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Debug("bundle already stored", zap.String("digest", rec.Digest))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("save bundle: %w", err)
	}
	s.logger.Info("bundle stored",
		zap.String("id", id),
		zap.String("node", rec.NodeID),
		zap.String("digest", rec.Digest))
	return true, nil
}

// Latest returns the most recent bundle of nodeID, body included.
func (s *Store) Latest(ctx context.Context, nodeID string) (*Record, error) {
	var r Record
	err := s.db.QueryRow(ctx, `
		SELECT id::text, node_id, session_id, digest, bundle, concepts, episodes, created_at
		FROM seed_bundles
		WHERE node_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, nodeID,
	).Scan(&r.ID, &r.NodeID, &r.SessionID, &r.Digest, &r.Bundle, &r.Concepts, &r.Episodes, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest bundle: %w", err)
	}
	return &r, nil
}

// List returns bundle metadata for nodeID, newest first, without bodies.
func (s *Store) List(ctx context.Context, nodeID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT id::text, node_id, session_id, digest, concepts, episodes, created_at
		FROM seed_bundles
		WHERE node_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, nodeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.NodeID, &r.SessionID, &r.Digest, &r.Concepts, &r.Episodes, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bundle: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.db.Close()
}
