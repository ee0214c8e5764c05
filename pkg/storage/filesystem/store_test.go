// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
	"github.com/leseb/openresponses-bridge/pkg/core/state/statetest"
)

func TestFilesystemConformance(t *testing.T) {
	statetest.RunConformanceTests(t, func(t *testing.T) statetest.Opener {
		dir := t.TempDir()
		return func(opts state.Options) state.SessionStore {
			return New(dir, opts)
		}
	}, statetest.Suite{Durable: true})
}

func TestStore_FileLayout(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, state.Options{})
	ctx := context.Background()

	if err := s.Store(ctx, "main", "resp_1", "agent:main:responses:resp_1"); err != nil {
		t.Fatalf("Store: %v", err)
	}

	path := filepath.Join(dir, "agents", "main", "responses-sessions.json")
	if s.Path("main") != path {
		t.Fatalf("Path = %q, want %q", s.Path("main"), path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store file: %v", err)
	}
	var doc struct {
		Version  int `json:"version"`
		Mappings map[string]struct {
			SessionKey string `json:"sessionKey"`
			CreatedAt  int64  `json:"createdAt"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Version != 1 {
		t.Errorf("version = %d, want 1", doc.Version)
	}
	if m := doc.Mappings["resp_1"]; m.SessionKey != "agent:main:responses:resp_1" || m.CreatedAt == 0 {
		t.Errorf("unexpected mapping: %+v", m)
	}

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if perm := fi.Mode().Perm(); perm != 0o600 {
			t.Errorf("file mode = %o, want 600", perm)
		}
	}

	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("lock file should be released, stat err = %v", err)
	}
}

func TestStore_AgentIDIsSanitized(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, state.Options{})
	got := s.Path("../../etc")
	if filepath.Dir(filepath.Dir(got)) != filepath.Join(dir, "agents") {
		t.Errorf("path escaped the agents dir: %q", got)
	}
}

func TestLookup_CorruptFileFailsOpen(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"garbage", "{not json"},
		{"wrong version", `{"version":2,"mappings":{"resp_1":{"sessionKey":"s","createdAt":1}}}`},
		{"missing mappings", `{"version":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			s := New(dir, state.Options{})
			path := s.Path("main")
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			if _, found, err := s.Lookup(context.Background(), "main", "resp_1"); found || err != nil {
				t.Errorf("expected clean miss, found=%v err=%v", found, err)
			}

			// A write over a corrupt file starts from empty.
			if err := s.Store(context.Background(), "main", "resp_2", "sess_2"); err != nil {
				t.Fatalf("Store: %v", err)
			}
			if got, found, _ := s.Lookup(context.Background(), "main", "resp_2"); !found || got != "sess_2" {
				t.Errorf("lookup after rewrite: %q %v", got, found)
			}
		})
	}
}

func TestStore_ExternalWriterVisible(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, state.Options{})
	b := New(dir, state.Options{})
	ctx := context.Background()

	if err := a.Store(ctx, "main", "resp_a", "sess_a"); err != nil {
		t.Fatal(err)
	}
	if err := b.Store(ctx, "main", "resp_b", "sess_b"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"resp_a", "resp_b"} {
		if _, found, _ := a.Lookup(ctx, "main", id); !found {
			t.Errorf("instance a cannot see %s", id)
		}
	}
}

func TestLock_StaleLockIsRecovered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	stale, _ := json.Marshal(lockInfo{PID: 99999, StartedAt: time.Now().Add(-time.Minute).UnixMilli()})
	if err := os.WriteFile(path+".lock", stale, 0o600); err != nil {
		t.Fatal(err)
	}

	opts := defaultLockOptions()
	opts.timeout = time.Second
	release, err := acquireLock(context.Background(), path, opts)
	if err != nil {
		t.Fatalf("acquireLock over stale lock: %v", err)
	}
	data, _ := os.ReadFile(path + ".lock")
	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil || info.PID != os.Getpid() {
		t.Errorf("lock content = %s, want our pid", data)
	}
	release()
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("release should remove the lock file")
	}
}

func TestLock_StaleByModTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	if err := os.WriteFile(path+".lock", nil, 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path+".lock", old, old); err != nil {
		t.Fatal(err)
	}

	release, err := acquireLock(context.Background(), path, defaultLockOptions())
	if err != nil {
		t.Fatalf("acquireLock: %v", err)
	}
	release()
}

func TestLock_ReleaseKeepsForeignLock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	release, err := acquireLock(context.Background(), path, defaultLockOptions())
	if err != nil {
		t.Fatal(err)
	}

	// Another holder broke our lock and took its own.
	other, _ := json.Marshal(lockInfo{PID: 4242, StartedAt: time.Now().UnixMilli(), Token: "other"})
	if err := os.WriteFile(path+".lock", other, 0o600); err != nil {
		t.Fatal(err)
	}
	release()

	data, err := os.ReadFile(path + ".lock")
	if err != nil {
		t.Fatalf("foreign lock was removed: %v", err)
	}
	if string(data) != string(other) {
		t.Errorf("lock content = %s, want %s", data, other)
	}
	assertNoLeftovers(t, dir, "store.json.lock")
}

func TestLock_StaleBreakSparesReplacement(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "store.json.lock")
	observed, _ := json.Marshal(lockInfo{PID: 99999, StartedAt: 1})
	fresh, _ := json.Marshal(lockInfo{PID: 7, StartedAt: time.Now().UnixMilli(), Token: "fresh"})

	// The stale lock was replaced by a live one after it was judged stale.
	if err := os.WriteFile(lockPath, fresh, 0o600); err != nil {
		t.Fatal(err)
	}
	if breakLock(lockPath, observed, defaultLockOptions()) {
		t.Fatal("breakLock removed a lock it had not judged stale")
	}
	data, err := os.ReadFile(lockPath)
	if err != nil || string(data) != string(fresh) {
		t.Errorf("live lock = %s, %v", data, err)
	}
	assertNoLeftovers(t, dir, "store.json.lock")
}

func TestLock_BreakGuardHeld(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "store.json.lock")
	observed, _ := json.Marshal(lockInfo{PID: 99999, StartedAt: 1})
	if err := os.WriteFile(lockPath, observed, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(lockPath+".break", nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if breakLock(lockPath, observed, defaultLockOptions()) {
		t.Error("breakLock must wait while another breaker holds the guard")
	}

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(lockPath+".break", old, old); err != nil {
		t.Fatal(err)
	}
	breakLock(lockPath, observed, defaultLockOptions())
	if !breakLock(lockPath, observed, defaultLockOptions()) {
		t.Error("abandoned guard should be cleared and the stale lock broken")
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("stale lock still present: %v", err)
	}
}

func TestLock_ConcurrentStaleBreakers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	stale, _ := json.Marshal(lockInfo{PID: 99999, StartedAt: time.Now().Add(-time.Minute).UnixMilli()})
	if err := os.WriteFile(path+".lock", stale, 0o600); err != nil {
		t.Fatal(err)
	}

	const waiters = 8
	var (
		inside  atomic.Int32
		overlap atomic.Bool
		wg      sync.WaitGroup
	)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := acquireLock(context.Background(), path, defaultLockOptions())
			if err != nil {
				t.Errorf("acquireLock: %v", err)
				return
			}
			if inside.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	if overlap.Load() {
		t.Error("two holders were inside the lock at once")
	}
	if _, err := os.Stat(path + ".lock"); !os.IsNotExist(err) {
		t.Errorf("lock should be released, stat err = %v", err)
	}
}

func assertNoLeftovers(t *testing.T, dir, want string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != want {
			t.Errorf("unexpected file %s", e.Name())
		}
	}
}

func TestLock_TimesOutOnLiveHolder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	live, _ := json.Marshal(lockInfo{PID: 1, StartedAt: time.Now().UnixMilli()})
	if err := os.WriteFile(path+".lock", live, 0o600); err != nil {
		t.Fatal(err)
	}

	opts := defaultLockOptions()
	opts.timeout = 100 * time.Millisecond
	start := time.Now()
	_, err := acquireLock(context.Background(), path, opts)
	if !errors.Is(err, state.ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestLock_WaitsForRelease(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	first, err := acquireLock(context.Background(), path, defaultLockOptions())
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(60 * time.Millisecond)
		first()
	}()

	second, err := acquireLock(context.Background(), path, defaultLockOptions())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	second()
}

func TestLock_ContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")
	held, err := acquireLock(context.Background(), path, defaultLockOptions())
	if err != nil {
		t.Fatal(err)
	}
	defer held()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := acquireLock(ctx, path, defaultLockOptions()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context deadline, got %v", err)
	}
}

func TestStore_LockTimeoutReported(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, state.Options{})
	s.lock.timeout = 50 * time.Millisecond
	path := s.Path("main")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	live, _ := json.Marshal(lockInfo{PID: 1, StartedAt: time.Now().UnixMilli()})
	if err := os.WriteFile(path+".lock", live, 0o600); err != nil {
		t.Fatal(err)
	}

	err := s.Store(context.Background(), "main", "resp_1", "sess")
	if !errors.Is(err, state.ErrLockTimeout) {
		t.Errorf("expected ErrLockTimeout, got %v", err)
	}
}

func TestWriteDocument_VanishedDirIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone", "store.json")
	doc := document{Version: storeVersion, Mappings: map[string]state.Mapping{"a": {SessionKey: "s", CreatedAt: 1}}}
	if err := writeDocument(path, doc); err != nil {
		t.Errorf("writeDocument into missing dir should be a silent no-op, got %v", err)
	}
}

func TestProviderFactory(t *testing.T) {
	dir := t.TempDir()
	s, err := state.Providers.New(context.Background(), "file", map[string]string{
		"state_dir":   dir,
		"max_entries": strconv.Itoa(2),
	})
	if err != nil {
		t.Fatalf("Providers.New: %v", err)
	}
	fs, ok := s.(*Store)
	if !ok {
		t.Fatalf("unexpected type %T", s)
	}
	if fs.opts.MaxEntries != 2 {
		t.Errorf("MaxEntries = %d, want 2", fs.opts.MaxEntries)
	}
}
