// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package filesystem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/leseb/openresponses-bridge/pkg/core/state"
)

const (
	lockPollInterval = 25 * time.Millisecond
	lockStaleAfter   = 30 * time.Second
	lockTimeout      = 10 * time.Second
)

// lockInfo is written into the sentinel file for diagnostics and staleness checks.
type lockInfo struct {
	PID       int    `json:"pid"`
	StartedAt int64  `json:"startedAt"` // unix milliseconds
	Token     string `json:"token,omitempty"`
}

// lockOptions tunes acquireLock; tests shorten the intervals.
type lockOptions struct {
	poll    time.Duration
	stale   time.Duration
	timeout time.Duration
	now     func() time.Time
}

func defaultLockOptions() lockOptions {
	return lockOptions{
		poll:    lockPollInterval,
		stale:   lockStaleAfter,
		timeout: lockTimeout,
		now:     time.Now,
	}
}

// acquireLock takes the advisory lock <path>.lock by creating it with
// O_EXCL. A holder older than opts.stale is presumed crashed and its lock is
// broken. The returned release func must be called exactly once and removes
// the lock only while it still carries this holder's token.
func acquireLock(ctx context.Context, path string, opts lockOptions) (func(), error) {
	lockPath := path + ".lock"
	deadline := opts.now().Add(opts.timeout)
	token := uuid.NewString()

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			info, _ := json.Marshal(lockInfo{PID: os.Getpid(), StartedAt: opts.now().UnixMilli(), Token: token})
			_, _ = f.Write(info)
			_ = f.Close()
			return func() { releaseLock(lockPath, token) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		if observed, stale := staleLock(lockPath, opts); stale && breakLock(lockPath, observed, opts) {
			continue
		}

		if !opts.now().Before(deadline) {
			return nil, fmt.Errorf("%s: %w", lockPath, state.ErrLockTimeout)
		}

		timer := time.NewTimer(opts.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// staleLock reports whether the holder of lockPath is presumed dead, along
// with the lock content that verdict was based on. The holder's recorded
// start time wins; the file's mtime is used when the content is missing or
// half-written.
func staleLock(lockPath string, opts lockOptions) ([]byte, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, false
	}
	var started time.Time
	var info lockInfo
	if json.Unmarshal(data, &info) == nil && info.StartedAt > 0 {
		started = time.UnixMilli(info.StartedAt)
	}
	if started.IsZero() {
		fi, err := os.Stat(lockPath)
		if err != nil {
			return nil, false
		}
		started = fi.ModTime()
	}
	return data, opts.now().Sub(started) > opts.stale
}

// breakLock removes lockPath if it still holds observed. Breakers serialize
// on <lock>.break so a waiter that judged an old lock stale cannot delete
// the fresh lock another waiter took in the meantime.
func breakLock(lockPath string, observed []byte, opts lockOptions) bool {
	guard := lockPath + ".break"
	f, err := os.OpenFile(guard, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		// A breaker that died mid-break leaves the guard behind.
		if fi, serr := os.Stat(guard); serr == nil && opts.now().Sub(fi.ModTime()) > opts.stale {
			_ = os.Remove(guard)
		}
		return false
	}
	_ = f.Close()
	defer os.Remove(guard)

	current, err := os.ReadFile(lockPath)
	if err != nil || !bytes.Equal(current, observed) {
		return false
	}
	return os.Remove(lockPath) == nil
}

// releaseLock removes lockPath unless another holder has replaced it.
func releaseLock(lockPath, token string) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return
	}
	var held lockInfo
	if json.Unmarshal(data, &held) != nil || held.Token != token {
		return
	}
	_ = os.Remove(lockPath)
}
