// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package statetest provides a shared conformance test suite for
// state.SessionStore implementations. Each backend should call
// RunConformanceTests from its own _test.go file.
package statetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
)

// Opener opens a store over one backing (a directory, a database). It may be
// called more than once for the same backing to simulate a process restart.
type Opener func(opts state.Options) state.SessionStore

// Backend allocates a fresh backing for one sub-test and returns its Opener.
type Backend func(t *testing.T) Opener

// Suite configures RunConformanceTests.
type Suite struct {
	// Durable is set for backends that survive a restart. The restart test is
	// skipped otherwise.
	Durable bool
}

// Clock is a manually advanced clock for deterministic TTL checks.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock starting at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// RunConformanceTests exercises a SessionStore implementation against the
// shared contract.
func RunConformanceTests(t *testing.T, backend Backend, suite Suite) {
	t.Helper()
	ctx := context.Background()

	open := func(t *testing.T, opts state.Options) state.SessionStore {
		t.Helper()
		s := backend(t)(opts)
		t.Cleanup(func() { s.Close() })
		return s
	}

	t.Run("StoreAndLookup", func(t *testing.T) {
		s := open(t, state.Options{})
		if err := s.Store(ctx, "main", "resp_1", "agent:main:responses:resp_1"); err != nil {
			t.Fatalf("Store: %v", err)
		}
		got, found, err := s.Lookup(ctx, "main", "resp_1")
		if err != nil || !found {
			t.Fatalf("Lookup: found=%v err=%v", found, err)
		}
		if got != "agent:main:responses:resp_1" {
			t.Errorf("session key = %q", got)
		}
	})

	t.Run("LookupMissing", func(t *testing.T) {
		s := open(t, state.Options{})
		_, found, err := s.Lookup(ctx, "main", "resp_unknown")
		if err != nil {
			t.Fatalf("Lookup: %v", err)
		}
		if found {
			t.Error("expected not found on empty store")
		}
	})

	t.Run("TTLBoundary", func(t *testing.T) {
		clock := NewClock(time.UnixMilli(1_700_000_000_000))
		s := open(t, state.Options{TTL: time.Minute, Now: clock.Now})
		if err := s.Store(ctx, "main", "resp_ttl", "sess"); err != nil {
			t.Fatalf("Store: %v", err)
		}

		clock.Advance(time.Minute)
		if _, found, _ := s.Lookup(ctx, "main", "resp_ttl"); !found {
			t.Fatal("entry should resolve at the TTL boundary")
		}

		clock.Advance(time.Millisecond)
		if _, found, _ := s.Lookup(ctx, "main", "resp_ttl"); found {
			t.Fatal("entry should be expired past the TTL")
		}
	})

	t.Run("TTLOneMillisecond", func(t *testing.T) {
		s := open(t, state.Options{TTL: time.Millisecond})
		if err := s.Store(ctx, "main", "resp_fast", "sess"); err != nil {
			t.Fatalf("Store: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
		if _, found, _ := s.Lookup(ctx, "main", "resp_fast"); found {
			t.Error("entry with 1ms TTL should be gone after 20ms")
		}
	})

	t.Run("CapacityEviction", func(t *testing.T) {
		const limit = 3
		clock := NewClock(time.UnixMilli(1_700_000_000_000))
		s := open(t, state.Options{MaxEntries: limit, Now: clock.Now})
		for i := 0; i <= limit; i++ {
			if err := s.Store(ctx, "main", fmt.Sprintf("resp_%d", i), fmt.Sprintf("sess_%d", i)); err != nil {
				t.Fatalf("Store %d: %v", i, err)
			}
			clock.Advance(time.Millisecond)
		}

		if _, found, _ := s.Lookup(ctx, "main", "resp_0"); found {
			t.Error("oldest entry should have been evicted")
		}
		for i := 1; i <= limit; i++ {
			got, found, _ := s.Lookup(ctx, "main", fmt.Sprintf("resp_%d", i))
			if !found || got != fmt.Sprintf("sess_%d", i) {
				t.Errorf("resp_%d: found=%v key=%q", i, found, got)
			}
		}
	})

	t.Run("PerAgentIsolation", func(t *testing.T) {
		s := open(t, state.Options{})
		if err := s.Store(ctx, "alpha", "resp_same", "sess_alpha"); err != nil {
			t.Fatalf("Store alpha: %v", err)
		}
		if err := s.Store(ctx, "beta", "resp_same", "sess_beta"); err != nil {
			t.Fatalf("Store beta: %v", err)
		}
		if got, _, _ := s.Lookup(ctx, "alpha", "resp_same"); got != "sess_alpha" {
			t.Errorf("alpha lookup = %q", got)
		}
		if got, _, _ := s.Lookup(ctx, "beta", "resp_same"); got != "sess_beta" {
			t.Errorf("beta lookup = %q", got)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		s := open(t, state.Options{})
		_ = s.Store(ctx, "main", "resp_dup", "first")
		_ = s.Store(ctx, "main", "resp_dup", "second")
		if got, _, _ := s.Lookup(ctx, "main", "resp_dup"); got != "second" {
			t.Errorf("lookup after overwrite = %q, want %q", got, "second")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		s := open(t, state.Options{})
		_ = s.Store(ctx, "main", "resp_a", "sess")
		_ = s.Store(ctx, "other", "resp_a", "sess_other")
		if err := s.Clear(ctx, "main"); err != nil {
			t.Fatalf("Clear: %v", err)
		}
		if _, found, _ := s.Lookup(ctx, "main", "resp_a"); found {
			t.Error("entry should be gone after Clear")
		}
		if _, found, _ := s.Lookup(ctx, "other", "resp_a"); !found {
			t.Error("Clear must not touch other agents")
		}
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		s := open(t, state.Options{})
		const writers = 16
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_ = s.Store(ctx, "main", fmt.Sprintf("resp_c%d", i), fmt.Sprintf("sess_c%d", i))
			}(i)
		}
		wg.Wait()
		for i := 0; i < writers; i++ {
			got, found, _ := s.Lookup(ctx, "main", fmt.Sprintf("resp_c%d", i))
			if !found || got != fmt.Sprintf("sess_c%d", i) {
				t.Errorf("resp_c%d lost: found=%v key=%q", i, found, got)
			}
		}
	})

	t.Run("ConcurrentInstances", func(t *testing.T) {
		if !suite.Durable {
			t.Skip("instances of a non-durable backend share nothing")
		}
		const writers = 12
		opener := backend(t)
		stores := make([]state.SessionStore, writers)
		for i := range stores {
			stores[i] = opener(state.Options{})
			t.Cleanup(func() { stores[i].Close() })
		}

		var wg sync.WaitGroup
		for i, s := range stores {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Store(ctx, "main", fmt.Sprintf("resp_i%d", i), fmt.Sprintf("sess_i%d", i)); err != nil {
					t.Errorf("instance %d Store: %v", i, err)
				}
			}()
		}
		wg.Wait()

		reader := opener(state.Options{})
		defer reader.Close()
		for i := 0; i < writers; i++ {
			got, found, _ := reader.Lookup(ctx, "main", fmt.Sprintf("resp_i%d", i))
			if !found || got != fmt.Sprintf("sess_i%d", i) {
				t.Errorf("resp_i%d lost across instances: found=%v key=%q", i, found, got)
			}
		}
	})

	t.Run("Restart", func(t *testing.T) {
		if !suite.Durable {
			t.Skip("backend is not durable")
		}
		opener := backend(t)
		first := opener(state.Options{})
		if err := first.Store(ctx, "main", "resp_durable", "sess_durable"); err != nil {
			t.Fatalf("Store: %v", err)
		}
		first.Close()

		second := opener(state.Options{})
		defer second.Close()
		got, found, err := second.Lookup(ctx, "main", "resp_durable")
		if err != nil || !found || got != "sess_durable" {
			t.Errorf("after restart: key=%q found=%v err=%v", got, found, err)
		}
	})
}
