// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"strings"

	"github.com/leseb/openresponses-bridge/pkg/core/schema"
	"github.com/leseb/openresponses-bridge/pkg/dispatch"
	"github.com/leseb/openresponses-bridge/pkg/media"
)

// BufferedRenderer collects every delivered payload and renders one
// response resource once the dispatch call returns.
type BufferedRenderer struct {
	media    MediaResolver
	payloads []dispatch.Payload
	side     []string
}

// NewBufferedRenderer creates a renderer. A nil resolver passes references
// through.
func NewBufferedRenderer(resolver MediaResolver) *BufferedRenderer {
	if resolver == nil {
		resolver = passthrough{}
	}
	return &BufferedRenderer{media: resolver}
}

// Callbacks wires the renderer to a dispatch call. Partial snapshots are
// superseded by the delivery and ignored.
func (b *BufferedRenderer) Callbacks() dispatch.Callbacks {
	return dispatch.Callbacks{
		Deliver: func(p dispatch.Payload) { b.payloads = append(b.payloads, p) },
		Send:    func(p dispatch.Payload) { b.side = append(b.side, p.Media()...) },
	}
}

// Text renders the collected payloads: each non-silent payload contributes
// its text and media markdown, parts are separated by a blank line, and
// side-channel media goes last.
func (b *BufferedRenderer) Text(ctx context.Context) string {
	seen := make(map[string]bool)
	var parts []string
	addMedia := func(refs []string) {
		for _, ref := range refs {
			ref = strings.TrimSpace(ref)
			if ref == "" || seen[ref] {
				continue
			}
			seen[ref] = true
			if md := b.media.ResolveMedia(ctx, ref).Markdown(); md != "" {
				parts = append(parts, md)
			}
		}
	}

	for _, p := range b.payloads {
		if IsSilentReply(p.Text) {
			continue
		}
		visible, refs := media.SplitTokens(p.Text, true)
		if body := strings.TrimSpace(b.media.RewriteLocalLinks(ctx, visible)); body != "" {
			parts = append(parts, body)
		}
		addMedia(append(refs, p.Media()...))
	}
	addMedia(b.side)

	if len(parts) == 0 {
		return EmptyReplyPlaceholder
	}
	return strings.Join(parts, "\n\n")
}

// Render fills resp from the collected payloads, or marks it failed when
// err is non-nil.
func (b *BufferedRenderer) Render(ctx context.Context, resp *schema.Response, itemID, prompt string, err error) *schema.Response {
	if err != nil {
		resp.MarkFailed("agent_error", err.Error())
		resp.Usage = usageFor(prompt, "")
		return resp
	}
	text := b.Text(ctx)
	resp.Output = []schema.ItemField{schema.NewMessageItem(itemID, text, schema.StatusCompleted)}
	resp.Usage = usageFor(prompt, text)
	resp.MarkCompleted()
	return resp
}
