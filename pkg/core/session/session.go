// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package session maps Responses API continuation ids onto the agent
// session keys the dispatch pipeline loads history by.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
	"github.com/leseb/openresponses-bridge/pkg/observability/logging"
)

const keyPrefix = "agent:"
const keyKind = ":responses:"

// Key builds the session key for a turn that starts a new conversation.
func Key(agentID, turnID string) string {
	return keyPrefix + agentID + keyKind + turnID
}

// ParseKey recovers the agent and originating turn from a session key.
func ParseKey(key string) (agentID, turnID string, ok bool) {
	rest, found := strings.CutPrefix(key, keyPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, keyKind)
	if i <= 0 {
		return "", "", false
	}
	agentID, turnID = rest[:i], rest[i+len(keyKind):]
	if turnID == "" {
		return "", "", false
	}
	return agentID, turnID, true
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	SessionKey string
	// Continued is set when the key came from a previous turn.
	Continued bool
}

// Resolver picks the session key for each request and records it under the
// request's own response id.
type Resolver struct {
	store   state.SessionStore
	log     *logging.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewResolver creates a Resolver over store.
func NewResolver(store state.SessionStore, logger *logging.Logger) *Resolver {
	return &Resolver{
		store:   store,
		log:     logging.OrDiscard(logger),
		timeout: 30 * time.Second,
	}
}

// Resolve returns the session key for the turn responseID. A previousID
// that resolves continues its session; anything else starts a new one.
// The mapping responseID -> key is persisted in the background.
func (r *Resolver) Resolve(ctx context.Context, agentID, previousID, responseID string) Resolution {
	res := Resolution{SessionKey: Key(agentID, responseID)}
	if previousID != "" {
		key, found, err := r.store.Lookup(ctx, agentID, previousID)
		switch {
		case err != nil:
			r.log.Warn("session lookup failed", "agent_id", agentID, "previous_response_id", previousID, "error", err)
		case found:
			res = Resolution{SessionKey: key, Continued: true}
		default:
			r.log.Debug("previous response not found, starting new session", "agent_id", agentID, "previous_response_id", previousID)
		}
	}
	r.persist(ctx, agentID, responseID, res.SessionKey)
	return res
}

func (r *Resolver) persist(ctx context.Context, agentID, turnID, key string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		if err := r.store.Store(ctx, agentID, turnID, key); err != nil {
			r.log.Warn("failed to persist session mapping", "agent_id", agentID, "response_id", turnID, "error", err)
		}
	}()
}

// Wait blocks until every background persist has finished.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

// Shutdown waits for background persists until ctx is done.
func (r *Resolver) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
