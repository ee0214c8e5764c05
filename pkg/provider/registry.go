// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider holds the named-factory registries behind every pluggable
// backend of the bridge: session stores, media stores and dispatchers.
//
// Backends register themselves from init(); the server blank-imports the
// packages it ships and picks one per subsystem by name from configuration.
package provider

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrUnknown is returned by Registry.New for names nobody registered.
var ErrUnknown = errors.New("unknown provider")

// Params are the string settings handed to a factory. Missing keys read as
// empty; the typed accessors report ok=false for missing or invalid values so
// factories can keep their defaults.
type Params map[string]string

// String returns the trimmed value of key.
func (p Params) String(key string) string {
	return strings.TrimSpace(p[key])
}

// Positive parses key as a positive integer.
func (p Params) Positive(key string) (int, bool) {
	v, err := strconv.Atoi(p.String(key))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Int parses key as an integer of any sign.
func (p Params) Int(key string) (int, bool) {
	v, err := strconv.Atoi(p.String(key))
	return v, err == nil
}

// Millis parses key as a positive number of milliseconds.
func (p Params) Millis(key string) (time.Duration, bool) {
	v, err := strconv.ParseInt(p.String(key), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return time.Duration(v) * time.Millisecond, true
}

// Duration parses key with time.ParseDuration. Non-positive values are
// rejected.
func (p Params) Duration(key string) (time.Duration, bool) {
	v, err := time.ParseDuration(p.String(key))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Require fails when any of keys is empty.
func (p Params) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if p.String(k) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required parameter(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

// Factory builds one backend instance.
type Factory[T any] func(ctx context.Context, params Params) (T, error)

// Registry maps backend names to factories for one subsystem.
type Registry[T any] struct {
	subsystem string
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

// NewRegistry creates a Registry. subsystem prefixes every error.
func NewRegistry[T any](subsystem string) *Registry[T] {
	return &Registry[T]{
		subsystem: subsystem,
		factories: make(map[string]Factory[T]),
	}
}

// Register adds a named factory. Registering a name twice panics.
func (r *Registry[T]) Register(name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("provider: %s backend %q already registered", r.subsystem, name))
	}
	r.factories[name] = f
}

// New builds the backend registered as name. Factory errors are wrapped with
// the subsystem and backend name.
func (r *Registry[T]) New(ctx context.Context, name string, params Params) (T, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	var zero T
	if !ok {
		return zero, fmt.Errorf("%s %q (available: %s): %w",
			r.subsystem, name, strings.Join(r.Available(), ", "), ErrUnknown)
	}
	if params == nil {
		params = Params{}
	}
	v, err := f(ctx, params)
	if err != nil {
		return zero, fmt.Errorf("%s %q: %w", r.subsystem, name, err)
	}
	return v, nil
}

// Has reports whether name is registered.
func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Available returns the registered names, sorted.
func (r *Registry[T]) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
