// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"testing"
	"time"
)

func TestOptionsFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		ttl     string
		max     string
		wantTTL time.Duration
		wantMax int
	}{
		{"unset", "", "", DefaultTTL, DefaultMaxEntries},
		{"valid", "60000", "10", time.Minute, 10},
		{"zero ignored", "0", "0", DefaultTTL, DefaultMaxEntries},
		{"negative ignored", "-5", "-1", DefaultTTL, DefaultMaxEntries},
		{"garbage ignored", "soon", "lots", DefaultTTL, DefaultMaxEntries},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvTTL, tt.ttl)
			t.Setenv(EnvMaxEntries, tt.max)
			opts := OptionsFromEnv()
			if opts.TTL != tt.wantTTL {
				t.Errorf("TTL = %v, want %v", opts.TTL, tt.wantTTL)
			}
			if opts.MaxEntries != tt.wantMax {
				t.Errorf("MaxEntries = %d, want %d", opts.MaxEntries, tt.wantMax)
			}
		})
	}
}

func TestExpired(t *testing.T) {
	opts := Options{TTL: time.Second}.WithDefaults()
	base := time.UnixMilli(1_000_000)

	if opts.Expired(base.UnixMilli(), base.Add(time.Second)) {
		t.Error("entry exactly at the TTL boundary should still resolve")
	}
	if !opts.Expired(base.UnixMilli(), base.Add(time.Second+time.Millisecond)) {
		t.Error("entry past the TTL should be expired")
	}
}

func TestPrune(t *testing.T) {
	now := time.UnixMilli(10_000)
	opts := Options{TTL: 5 * time.Second, MaxEntries: 2}.WithDefaults()
	mappings := map[string]Mapping{
		"expired": {SessionKey: "s0", CreatedAt: 1_000},
		"old":     {SessionKey: "s1", CreatedAt: 7_000},
		"mid":     {SessionKey: "s2", CreatedAt: 8_000},
		"new":     {SessionKey: "s3", CreatedAt: 9_000},
	}

	opts.Prune(mappings, now)

	if len(mappings) != 2 {
		t.Fatalf("expected 2 mappings, got %d: %v", len(mappings), mappings)
	}
	for _, id := range []string{"mid", "new"} {
		if _, ok := mappings[id]; !ok {
			t.Errorf("expected %q to survive", id)
		}
	}
}

func TestPrune_TieBreakByTurnID(t *testing.T) {
	opts := Options{TTL: time.Hour, MaxEntries: 1}.WithDefaults()
	mappings := map[string]Mapping{
		"b": {SessionKey: "s", CreatedAt: 5},
		"a": {SessionKey: "s", CreatedAt: 5},
	}
	opts.Prune(mappings, time.UnixMilli(6))
	if _, ok := mappings["b"]; !ok || len(mappings) != 1 {
		t.Errorf("expected only %q to remain, got %v", "b", mappings)
	}
}
