// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
	"github.com/leseb/openresponses-bridge/pkg/provider"
)

func init() {
	state.Providers.Register("file", func(_ context.Context, params provider.Params) (state.SessionStore, error) {
		if err := params.Require("state_dir"); err != nil {
			return nil, err
		}
		return New(params.String("state_dir"), state.OptionsFromParams(params)), nil
	})
}

// compile-time check
var _ state.SessionStore = (*Store)(nil)

const (
	storeVersion = 1
	storeFile    = "responses-sessions.json"
)

// document is the on-disk shape of one agent's store file.
type document struct {
	Version  int                      `json:"version"`
	Mappings map[string]state.Mapping `json:"mappings"`
}

// Store implements state.SessionStore with one JSON document per agent.
//
// Layout:
//
//	<baseDir>/agents/<agent>/responses-sessions.json       mappings
//	<baseDir>/agents/<agent>/responses-sessions.json.lock  advisory lock
//
// Nothing is cached between calls: every Lookup re-reads the file, so the
// store reflects the last successful writer, including other processes.
type Store struct {
	baseDir string
	opts    state.Options
	lock    lockOptions
}

// New creates a file-backed store rooted at baseDir. The directory is created
// lazily on first write.
func New(baseDir string, opts state.Options) *Store {
	return &Store{
		baseDir: baseDir,
		opts:    opts.WithDefaults(),
		lock:    defaultLockOptions(),
	}
}

var unsafeAgentChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Path returns the store file used for agentID.
func (s *Store) Path(agentID string) string {
	safe := unsafeAgentChars.ReplaceAllString(agentID, "_")
	if safe == "" || safe == "." || safe == ".." {
		safe = "_"
	}
	return filepath.Join(s.baseDir, "agents", safe, storeFile)
}

// Lookup returns the session key stored for turnID. A missing, corrupt or
// wrong-version file reads as an empty store.
func (s *Store) Lookup(_ context.Context, agentID, turnID string) (string, bool, error) {
	doc := load(s.Path(agentID))
	m, ok := doc.Mappings[turnID]
	if !ok || m.SessionKey == "" {
		return "", false, nil
	}
	if s.opts.Expired(m.CreatedAt, s.opts.Now()) {
		return "", false, nil
	}
	return m.SessionKey, true, nil
}

// Store upserts turnID under the lock, prunes and writes the file back.
func (s *Store) Store(ctx context.Context, agentID, turnID, sessionKey string) error {
	return s.update(ctx, agentID, func(doc *document) {
		now := s.opts.Now()
		doc.Mappings[turnID] = state.Mapping{SessionKey: sessionKey, CreatedAt: now.UnixMilli()}
		s.opts.Prune(doc.Mappings, now)
	})
}

// Clear resets the agent's store to empty.
func (s *Store) Clear(ctx context.Context, agentID string) error {
	return s.update(ctx, agentID, func(doc *document) {
		doc.Mappings = map[string]state.Mapping{}
	})
}

// Close is a no-op for the file store.
func (s *Store) Close() error {
	return nil
}

func (s *Store) update(ctx context.Context, agentID string, mutate func(*document)) error {
	path := s.Path(agentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	release, err := acquireLock(ctx, path, s.lock)
	if err != nil {
		return err
	}
	defer release()

	doc := load(path)
	mutate(&doc)
	return writeDocument(path, doc)
}

func load(path string) document {
	empty := document{Version: storeVersion, Mappings: map[string]state.Mapping{}}
	data, err := os.ReadFile(path)
	if err != nil {
		return empty
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil || doc.Version != storeVersion || doc.Mappings == nil {
		return empty
	}
	return doc
}

// writeDocument replaces path atomically via a temp file and rename. When
// rename is unavailable or fails, it falls back to an in-place write; a
// vanished parent directory drops the write silently.
func writeDocument(path string, doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session store: %w", err)
	}
	data = append(data, '\n')

	if runtime.GOOS != "windows" {
		if err := writeAtomic(path, data); err == nil {
			return nil
		}
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("write session store: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
