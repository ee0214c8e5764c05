// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/provider"
)

const (
	// DefaultTTL is how long a turn-id to session-key mapping stays resolvable.
	DefaultTTL = 14 * 24 * time.Hour

	// DefaultMaxEntries caps the number of mappings kept per agent.
	DefaultMaxEntries = 4096

	// EnvTTL overrides the TTL, in milliseconds.
	EnvTTL = "RESPONSES_SESSION_TTL_MS"

	// EnvMaxEntries overrides the per-agent capacity.
	EnvMaxEntries = "RESPONSES_SESSION_MAX_ENTRIES"
)

// ErrLockTimeout is returned by file-backed stores when the advisory lock
// could not be acquired in time.
var ErrLockTimeout = errors.New("session store lock timeout")

// Providers is the registry of session store backends.
//
//	import _ "github.com/leseb/openresponses-bridge/pkg/storage/filesystem"
//	import _ "github.com/leseb/openresponses-bridge/pkg/storage/sqlite"
var Providers = provider.NewRegistry[SessionStore]("session_store")

// SessionStore maps a previous-turn identifier to a conversation session key,
// scoped per agent.
//
// Lookup returns found=false for missing, expired, or unreadable entries; a
// non-nil error is only reported by backends that can tell a transport failure
// from a miss, and callers must treat it as a miss.
//
// Store upserts the mapping, purges entries older than the TTL and evicts the
// oldest entries beyond the capacity. It is best-effort: callers log the error
// and carry on.
type SessionStore interface {
	Lookup(ctx context.Context, agentID, turnID string) (sessionKey string, found bool, err error)
	Store(ctx context.Context, agentID, turnID, sessionKey string) error
	Clear(ctx context.Context, agentID string) error
	Close() error
}

// Mapping is one persisted turn-id entry.
type Mapping struct {
	SessionKey string `json:"sessionKey"`
	CreatedAt  int64  `json:"createdAt"` // unix milliseconds
}

// Options holds the retention policy shared by all backends.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	// Now is the clock used for createdAt stamps and expiry checks.
	Now func() time.Time
}

// WithDefaults fills zero or invalid fields.
func (o Options) WithDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// OptionsFromEnv returns default options with the env overrides applied.
// Non-positive or unparsable values are ignored.
func OptionsFromEnv() Options {
	var opts Options
	if ms, ok := positiveEnv(EnvTTL); ok {
		opts.TTL = time.Duration(ms) * time.Millisecond
	}
	if n, ok := positiveEnv(EnvMaxEntries); ok {
		opts.MaxEntries = int(n)
	}
	return opts.WithDefaults()
}

// OptionsFromParams applies the ttl_ms and max_entries provider parameters
// on top of OptionsFromEnv.
func OptionsFromParams(p provider.Params) Options {
	opts := OptionsFromEnv()
	if ttl, ok := p.Millis("ttl_ms"); ok {
		opts.TTL = ttl
	}
	if n, ok := p.Positive("max_entries"); ok {
		opts.MaxEntries = n
	}
	return opts
}

// Expired reports whether a mapping created at createdAt (unix ms) is past the TTL at now.
func (o Options) Expired(createdAt int64, now time.Time) bool {
	return now.UnixMilli()-createdAt > o.TTL.Milliseconds()
}

func positiveEnv(name string) (int64, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
