// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
	"github.com/leseb/openresponses-bridge/pkg/provider"
)

func init() {
	state.Providers.Register("memory", func(_ context.Context, params provider.Params) (state.SessionStore, error) {
		return New(state.OptionsFromParams(params)), nil
	})
}

// compile-time check
var _ state.SessionStore = (*Store)(nil)

// Store is an in-memory implementation of SessionStore. Mappings are lost on
// restart.
type Store struct {
	mu     sync.RWMutex
	opts   state.Options
	agents map[string]map[string]state.Mapping
}

// New creates a new in-memory store
func New(opts state.Options) *Store {
	return &Store{
		opts:   opts.WithDefaults(),
		agents: make(map[string]map[string]state.Mapping),
	}
}

// Lookup returns the session key stored for turnID, unless expired.
func (s *Store) Lookup(_ context.Context, agentID, turnID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.agents[agentID][turnID]
	if !ok || s.opts.Expired(m.CreatedAt, s.opts.Now()) {
		return "", false, nil
	}
	return m.SessionKey, true, nil
}

// Store upserts the mapping and prunes the agent's entries.
func (s *Store) Store(_ context.Context, agentID, turnID, sessionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mappings, ok := s.agents[agentID]
	if !ok {
		mappings = make(map[string]state.Mapping)
		s.agents[agentID] = mappings
	}
	now := s.opts.Now()
	mappings[turnID] = state.Mapping{SessionKey: sessionKey, CreatedAt: now.UnixMilli()}
	s.opts.Prune(mappings, now)
	return nil
}

// Clear drops every mapping of agentID.
func (s *Store) Clear(_ context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.agents, agentID)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Len returns the number of live entries for agentID, expired ones included.
func (s *Store) Len(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents[agentID])
}
