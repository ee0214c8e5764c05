// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"reflect"
	"testing"
)

func TestSplitTokens(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		final    bool
		wantText string
		wantRefs []string
	}{
		{"plain", "hello world", false, "hello world", nil},
		{"complete token line", "here you go\nMEDIA:/tmp/a.png\n", false, "here you go\n", []string{"/tmp/a.png"}},
		{"trailing token held", "here\nMEDIA:/tmp/a.pn", false, "here", nil},
		{"trailing token final", "here\nMEDIA:/tmp/a.png", true, "here", []string{"/tmp/a.png"}},
		{"partial prefix held", "here\nMED", false, "here", nil},
		{"partial prefix final", "here\nMED", true, "here\nMED", nil},
		{"prefix diverges", "here\nMEDIUM rare", false, "here\nMEDIUM rare", nil},
		{"quoted ref", "MEDIA: \"/tmp/my file.png\"\nok", false, "ok", []string{"/tmp/my file.png"}},
		{"indented token", "a\n  MEDIA:https://x.test/i.png\nb", false, "a\nb", []string{"https://x.test/i.png"}},
		{"empty ref dropped", "MEDIA:\nok", true, "ok", nil},
		{"multiple", "MEDIA:/a.png\nMEDIA:/b.png\n", false, "", []string{"/a.png", "/b.png"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, refs := SplitTokens(tt.text, tt.final)
			if text != tt.wantText {
				t.Errorf("text = %q, want %q", text, tt.wantText)
			}
			if !reflect.DeepEqual(refs, tt.wantRefs) {
				t.Errorf("refs = %q, want %q", refs, tt.wantRefs)
			}
		})
	}
}

func TestSplitTokens_GrowingPrefixStable(t *testing.T) {
	full := "Look:\nMEDIA:/tmp/cat.png\nThat is a cat."
	prev := ""
	for i := 1; i <= len(full); i++ {
		text, _ := SplitTokens(full[:i], false)
		if len(text) < len(prev) && prev[:len(text)] != text {
			t.Fatalf("snapshot %d diverged: %q after %q", i, text, prev)
		}
		prev = text
	}
	text, refs := SplitTokens(full, true)
	if text != "Look:\nThat is a cat." || len(refs) != 1 {
		t.Errorf("final = %q %q", text, refs)
	}
}
