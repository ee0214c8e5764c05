// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlite provides a SQLite-backed session store using the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
	"github.com/leseb/openresponses-bridge/pkg/provider"
	"github.com/leseb/openresponses-bridge/pkg/storage/sqlstore"

	_ "modernc.org/sqlite"
)

func init() {
	state.Providers.Register("sqlite", func(ctx context.Context, params provider.Params) (state.SessionStore, error) {
		path := params.String("dsn")
		if path == "" {
			if err := params.Require("state_dir"); err != nil {
				return nil, err
			}
			path = filepath.Join(params.String("state_dir"), "responses-sessions.db")
		}
		return New(ctx, path, state.OptionsFromParams(params))
	})
}

var dialect = sqlstore.Dialect{Name: "sqlite", Schema: sqlstore.DefaultSchema}

// New opens (creating if needed) the database file at path.
func New(ctx context.Context, path string, opts state.Options) (*sqlstore.Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return sqlstore.Open(ctx, db, dialect, opts)
}
