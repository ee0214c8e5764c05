// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/leseb/openresponses-bridge/pkg/core/schema"
	"github.com/leseb/openresponses-bridge/pkg/dispatch"
)

func TestBuffered_Text(t *testing.T) {
	tests := []struct {
		name     string
		payloads []dispatch.Payload
		side     []dispatch.Payload
		want     string
	}{
		{
			name:     "single",
			payloads: []dispatch.Payload{{Text: "hello"}},
			want:     "hello",
		},
		{
			name:     "multiple payloads joined",
			payloads: []dispatch.Payload{{Text: "first block"}, {Text: "second block"}},
			want:     "first block\n\nsecond block",
		},
		{
			name:     "silent payload filtered",
			payloads: []dispatch.Payload{{Text: "NO_REPLY"}, {Text: "kept"}},
			want:     "kept",
		},
		{
			name:     "only silent",
			payloads: []dispatch.Payload{{Text: " NO_REPLY "}},
			want:     EmptyReplyPlaceholder,
		},
		{
			name:     "nothing delivered",
			payloads: nil,
			want:     EmptyReplyPlaceholder,
		},
		{
			name:     "media tokens and urls",
			payloads: []dispatch.Payload{{Text: "chart:\nMEDIA:/tmp/c.png", MediaURLs: []string{"/tmp/d.png"}}},
			want:     "chart:\n\n![](https://media.test/c.png)\n\n![](https://media.test/d.png)",
		},
		{
			name:     "side channel media last and deduped",
			payloads: []dispatch.Payload{{Text: "done", MediaURL: "/tmp/a.png"}},
			side:     []dispatch.Payload{{MediaURL: "/tmp/a.png"}, {MediaURL: "/tmp/b.png"}},
			want:     "done\n\n![](https://media.test/a.png)\n\n![](https://media.test/b.png)",
		},
		{
			name:     "local links rewritten",
			payloads: []dispatch.Payload{{Text: "see [r](/local/r.pdf)"}},
			want:     "see [r](https://media.test/r.pdf)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBufferedRenderer(&fakeMedia{})
			cb := b.Callbacks()
			cb.EmitPartial(dispatch.Payload{Text: "ignored partial"})
			for _, p := range tt.side {
				cb.EmitSend(p)
			}
			for _, p := range tt.payloads {
				cb.EmitDeliver(p)
			}
			if got := b.Text(context.Background()); got != tt.want {
				t.Errorf("Text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuffered_Render(t *testing.T) {
	b := NewBufferedRenderer(nil)
	b.Callbacks().EmitDeliver(dispatch.Payload{Text: "answer"})
	resp := b.Render(context.Background(), schema.NewResponse("resp_1", "m"), "msg_1", "question", nil)
	if resp.Status != schema.StatusCompleted || resp.CompletedAt == nil {
		t.Errorf("status = %q", resp.Status)
	}
	if len(resp.Output) != 1 || resp.Output[0].ID != "msg_1" || resp.Output[0].Content[0].Text != "answer" {
		t.Errorf("output = %+v", resp.Output)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != resp.Usage.InputTokens+resp.Usage.OutputTokens {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestBuffered_RenderFailure(t *testing.T) {
	b := NewBufferedRenderer(nil)
	resp := b.Render(context.Background(), schema.NewResponse("resp_1", "m"), "msg_1", "q", errors.New("boom"))
	if resp.Status != schema.StatusFailed || resp.Error == nil || resp.Error.Message != "boom" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.Output) != 0 {
		t.Errorf("failed response should have no output, got %+v", resp.Output)
	}
}
