// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
	"github.com/leseb/openresponses-bridge/pkg/storage/filesystem"
	"github.com/leseb/openresponses-bridge/pkg/storage/memory"
)

func TestKey(t *testing.T) {
	key := Key("main", "resp_1")
	if key != "agent:main:responses:resp_1" {
		t.Fatalf("Key = %q", key)
	}
	agent, turn, ok := ParseKey(key)
	if !ok || agent != "main" || turn != "resp_1" {
		t.Errorf("ParseKey = %q %q %v", agent, turn, ok)
	}

	agent, _, ok = ParseKey("agent:team:ops:responses:resp_2")
	if !ok || agent != "team:ops" {
		t.Errorf("agent ids with colons should round-trip, got %q", agent)
	}
	for _, bad := range []string{"", "main", "agent::responses:x", "agent:main:responses:", "session:main:responses:x"} {
		if _, _, ok := ParseKey(bad); ok {
			t.Errorf("ParseKey(%q) should fail", bad)
		}
	}
}

func TestResolve_Chain(t *testing.T) {
	r := NewResolver(filesystem.New(t.TempDir(), state.Options{}), nil)
	ctx := context.Background()

	a := r.Resolve(ctx, "main", "", "resp_a")
	r.Wait()
	if a.Continued || a.SessionKey != Key("main", "resp_a") {
		t.Fatalf("first turn = %+v", a)
	}

	b := r.Resolve(ctx, "main", "resp_a", "resp_b")
	r.Wait()
	if !b.Continued || b.SessionKey != a.SessionKey {
		t.Fatalf("second turn = %+v, want session %q", b, a.SessionKey)
	}

	c := r.Resolve(ctx, "main", "resp_b", "resp_c")
	r.Wait()
	if c.SessionKey != a.SessionKey {
		t.Fatalf("third turn = %+v, want session %q", c, a.SessionKey)
	}

	// Every id in the chain resolves to the same session.
	for _, id := range []string{"resp_a", "resp_b", "resp_c"} {
		got := r.Resolve(ctx, "main", id, "resp_probe_"+id)
		if got.SessionKey != a.SessionKey {
			t.Errorf("%s resolves to %q", id, got.SessionKey)
		}
	}
	r.Wait()
}

func TestResolve_MissStartsNewSession(t *testing.T) {
	r := NewResolver(memory.New(state.Options{}), nil)
	got := r.Resolve(context.Background(), "main", "resp_unknown", "resp_new")
	r.Wait()
	if got.Continued || got.SessionKey != Key("main", "resp_new") {
		t.Errorf("unexpected resolution %+v", got)
	}
}

func TestResolve_OtherAgentCannotContinue(t *testing.T) {
	r := NewResolver(memory.New(state.Options{}), nil)
	ctx := context.Background()
	first := r.Resolve(ctx, "alpha", "", "resp_1")
	r.Wait()
	got := r.Resolve(ctx, "beta", "resp_1", "resp_2")
	r.Wait()
	if got.SessionKey == first.SessionKey {
		t.Error("another agent must not continue alpha's session")
	}
}

// failingStore errors on every call and blocks Store until released.
type failingStore struct {
	release chan struct{}
	mu      sync.Mutex
	stores  int
}

func (f *failingStore) Lookup(context.Context, string, string) (string, bool, error) {
	return "", false, errors.New("disk on fire")
}

func (f *failingStore) Store(ctx context.Context, _, _, _ string) error {
	<-f.release
	f.mu.Lock()
	f.stores++
	f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.New("disk on fire")
}

func (f *failingStore) Clear(context.Context, string) error { return nil }
func (f *failingStore) Close() error                        { return nil }

func TestResolve_StoreFailuresDoNotBlock(t *testing.T) {
	fs := &failingStore{release: make(chan struct{})}
	r := NewResolver(fs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	got := r.Resolve(ctx, "main", "resp_prev", "resp_1")
	if time.Since(start) > time.Second {
		t.Fatal("Resolve blocked on the store write")
	}
	if got.SessionKey != Key("main", "resp_1") {
		t.Errorf("lookup error should fall back to a new session, got %+v", got)
	}

	// The request finishing must not cancel the background write.
	cancel()
	close(fs.release)
	r.Wait()
	if fs.stores != 1 {
		t.Errorf("stores = %d, want 1", fs.stores)
	}
}

func TestShutdown_Deadline(t *testing.T) {
	fs := &failingStore{release: make(chan struct{})}
	r := NewResolver(fs, nil)
	r.Resolve(context.Background(), "main", "", "resp_1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline, got %v", err)
	}
	close(fs.release)
	if err := r.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown after release: %v", err)
	}
}
