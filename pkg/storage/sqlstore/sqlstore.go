// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlstore implements state.SessionStore on top of database/sql. The
// sqlite and postgres packages supply the driver and dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
)

// Dialect captures the differences between supported SQL engines.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of "?".
	Numbered bool
	// Schema is executed once when the store opens.
	Schema []string
}

const schemaTable = `CREATE TABLE IF NOT EXISTS session_mappings (
	agent_id    TEXT NOT NULL,
	turn_id     TEXT NOT NULL,
	session_key TEXT NOT NULL,
	created_at  BIGINT NOT NULL,
	PRIMARY KEY (agent_id, turn_id)
)`

const schemaIndex = `CREATE INDEX IF NOT EXISTS idx_session_mappings_created ON session_mappings(agent_id, created_at)`

// DefaultSchema is the table layout shared by every dialect.
var DefaultSchema = []string{schemaTable, schemaIndex}

// compile-time check
var _ state.SessionStore = (*Store)(nil)

// Store is a database/sql-backed SessionStore.
type Store struct {
	db      *sql.DB
	dialect Dialect
	opts    state.Options
}

// Open wraps an already opened database, verifies connectivity and creates
// the schema. The store takes ownership of db.
func Open(ctx context.Context, db *sql.DB, dialect Dialect, opts state.Options) (*Store, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s ping: %w", dialect.Name, err)
	}
	if len(dialect.Schema) == 0 {
		dialect.Schema = DefaultSchema
	}
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s create tables: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect, opts: opts.WithDefaults()}, nil
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rebind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Lookup returns the session key stored for turnID, unless expired.
func (s *Store) Lookup(ctx context.Context, agentID, turnID string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT session_key, created_at FROM session_mappings WHERE agent_id = ? AND turn_id = ?`),
		agentID, turnID)

	var (
		key       string
		createdAt int64
	)
	err := row.Scan(&key, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup session mapping: %w", err)
	}
	if s.opts.Expired(createdAt, s.opts.Now()) {
		return "", false, nil
	}
	return key, true, nil
}

// Store upserts the mapping, then purges expired rows and evicts the oldest
// rows beyond the capacity, all in one transaction.
func (s *Store) Store(ctx context.Context, agentID, turnID, sessionKey string) error {
	now := s.opts.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, s.rebind(
		`INSERT INTO session_mappings (agent_id, turn_id, session_key, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (agent_id, turn_id) DO UPDATE SET session_key = excluded.session_key, created_at = excluded.created_at`),
		agentID, turnID, sessionKey, now); err != nil {
		return fmt.Errorf("upsert session mapping: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM session_mappings WHERE agent_id = ? AND created_at < ?`),
		agentID, now-s.opts.TTL.Milliseconds()); err != nil {
		return fmt.Errorf("purge expired mappings: %w", err)
	}

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM session_mappings WHERE agent_id = ? AND turn_id NOT IN (
			SELECT turn_id FROM session_mappings WHERE agent_id = ?
			ORDER BY created_at DESC, turn_id DESC LIMIT ?
		)`),
		agentID, agentID, s.opts.MaxEntries); err != nil {
		return fmt.Errorf("evict mappings: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session mapping: %w", err)
	}
	return nil
}

// Clear deletes every mapping of agentID.
func (s *Store) Clear(ctx context.Context, agentID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM session_mappings WHERE agent_id = ?`), agentID); err != nil {
		return fmt.Errorf("clear session mappings: %w", err)
	}
	return nil
}

// Reset deletes every mapping of every agent.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_mappings`); err != nil {
		return fmt.Errorf("reset session mappings: %w", err)
	}
	return nil
}
