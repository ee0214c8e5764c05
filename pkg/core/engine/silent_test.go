// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "testing"

func TestIsSilentReply(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"NO_REPLY", true},
		{"  NO_REPLY\n", true},
		{"no_reply", false},
		{"NO_REPLY.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSilentReply(tt.text); got != tt.want {
			t.Errorf("IsSilentReply(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestMaybeSilent(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"N", true},
		{"no", true},
		{"NO_REP", true},
		{"NO_REPLY", true},
		{"NO_REPLY and more", true},
		// Known holdback latency: a short "No" is buffered until it diverges.
		{"No", true},
		{"No,", false},
		{"NOT SILENT", false},
		{"Hello", false},
	}
	for _, tt := range tests {
		if got := MaybeSilent(tt.text); got != tt.want {
			t.Errorf("MaybeSilent(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
