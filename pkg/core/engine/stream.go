// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/leseb/openresponses-bridge/pkg/core/schema"
	"github.com/leseb/openresponses-bridge/pkg/dispatch"
	"github.com/leseb/openresponses-bridge/pkg/media"
	"github.com/leseb/openresponses-bridge/pkg/observability/logging"
)

// EventWriter is the transport a StreamRenderer writes SSE events to.
type EventWriter interface {
	WriteEvent(eventType string, payload any) error
	WriteDone() error
}

// MediaResolver turns media references into client URLs.
type MediaResolver interface {
	ResolveMedia(ctx context.Context, ref string) media.Media
	RewriteLocalLinks(ctx context.Context, text string) string
}

// passthrough is used when no resolver is configured.
type passthrough struct{}

func (passthrough) ResolveMedia(_ context.Context, ref string) media.Media {
	ref = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(ref), media.TokenPrefix))
	return media.Media{URL: ref}
}

func (passthrough) RewriteLocalLinks(_ context.Context, text string) string { return text }

// StreamRenderer turns cumulative reply snapshots into Responses API stream
// events for a single message output item.
//
// Text that could still become the silent sentinel is held back. Once a
// snapshot rules the sentinel out, the held text goes out as one delta and
// later snapshots emit only their new suffix. Media found in a snapshot is
// emitted as a markdown delta right after the text that released it.
//
// One renderer serves one request. Its methods must not be called
// concurrently.
type StreamRenderer struct {
	w     EventWriter
	media MediaResolver
	log   *logging.Logger

	resp   *schema.Response
	itemID string
	prompt string
	seq    int

	started    bool
	finished   bool
	closed     bool
	confirmed  bool
	suppressed bool

	latest     string // last visible snapshot text
	emitted    string // visible text already sent as deltas
	rendered   strings.Builder
	afterMedia bool // last delta was a media block

	seen     map[string]bool
	queued   []string
	resolved []media.Media
}

// NewStreamRenderer creates a renderer for resp, which carries the id,
// model and echoed request fields. A nil resolver passes references through.
func NewStreamRenderer(w EventWriter, resp *schema.Response, itemID string, resolver MediaResolver, logger *logging.Logger) *StreamRenderer {
	if resolver == nil {
		resolver = passthrough{}
	}
	return &StreamRenderer{
		w:      w,
		media:  resolver,
		log:    logging.OrDiscard(logger),
		resp:   resp,
		itemID: itemID,
		seen:   make(map[string]bool),
	}
}

// Callbacks wires the renderer to a dispatch call.
func (s *StreamRenderer) Callbacks(ctx context.Context) dispatch.Callbacks {
	return dispatch.Callbacks{
		Partial: func(p dispatch.Payload) { s.Snapshot(ctx, p, false) },
		Deliver: func(p dispatch.Payload) { s.Snapshot(ctx, p, true) },
		Send:    func(p dispatch.Payload) { s.SideMedia(ctx, p) },
	}
}

// SetPrompt records the prompt for usage estimates.
func (s *StreamRenderer) SetPrompt(text string) { s.prompt = text }

// Closed reports whether the client went away.
func (s *StreamRenderer) Closed() bool { return s.closed }

// Suppressed reports whether the turn resolved to the silent sentinel.
func (s *StreamRenderer) Suppressed() bool { return s.suppressed }

// Start emits the opening events up to the empty content part.
func (s *StreamRenderer) Start(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true

	s.emit(ctx, schema.EventResponseCreated, &schema.ResponseStreamingEvent{
		Type:     schema.EventResponseCreated,
		Response: *s.resp,
	})
	s.emit(ctx, schema.EventResponseInProgress, &schema.ResponseStreamingEvent{
		Type:     schema.EventResponseInProgress,
		Response: *s.resp,
	})
	item := schema.NewMessageItem(s.itemID, "", schema.StatusInProgress)
	item.Content = []schema.ContentPart{}
	s.emit(ctx, schema.EventOutputItemAdded, &schema.OutputItemStreamingEvent{
		Type: schema.EventOutputItemAdded,
		Item: item,
	})
	s.emit(ctx, schema.EventContentPartAdded, &schema.ContentPartStreamingEvent{
		Type:   schema.EventContentPartAdded,
		ItemID: s.itemID,
		Part:   schema.NewTextPart(""),
	})
}

// Snapshot consumes one cumulative payload. final is set for the terminal
// delivery.
func (s *StreamRenderer) Snapshot(ctx context.Context, p dispatch.Payload, final bool) {
	if s.finished || s.suppressed || s.closed {
		return
	}
	visible, refs := media.SplitTokens(p.Text, final)
	s.queue(append(refs, p.Media()...))

	if IsSilentReply(visible) {
		s.suppress()
		return
	}
	s.latest = visible
	if !s.confirmed {
		if !final && MaybeSilent(visible) {
			return
		}
		s.confirmed = true
	}
	s.emitText(ctx, visible)
	s.flushMedia(ctx)
}

// SideMedia records media sent outside the reply text.
func (s *StreamRenderer) SideMedia(ctx context.Context, p dispatch.Payload) {
	if s.finished || s.suppressed || s.closed {
		return
	}
	s.queue(p.Media())
	if s.confirmed {
		s.flushMedia(ctx)
	}
}

// Finish emits the close sequence. A non-nil err renders an error delta and
// marks the response failed.
func (s *StreamRenderer) Finish(ctx context.Context, err error) {
	if s.finished {
		return
	}
	s.finished = true
	if !s.started {
		s.Start(ctx)
	}

	var text string
	if err != nil {
		msg := "Error: " + err.Error()
		if s.rendered.Len() > 0 {
			msg = "\n\n" + msg
		}
		s.emitDelta(ctx, msg)
		text = s.rendered.String()
		s.resp.MarkFailed("agent_error", err.Error())
	} else {
		text = s.finalText(ctx)
		s.resp.MarkCompleted()
	}

	status := schema.StatusCompleted
	if err != nil {
		status = schema.StatusIncomplete
	}
	item := schema.NewMessageItem(s.itemID, text, status)
	s.resp.Output = []schema.ItemField{item}
	s.resp.Usage = usageFor(s.prompt, text)

	s.emit(ctx, schema.EventOutputTextDone, &schema.OutputTextDoneStreamingEvent{
		Type:     schema.EventOutputTextDone,
		ItemID:   s.itemID,
		Text:     text,
		Logprobs: []interface{}{},
	})
	s.emit(ctx, schema.EventContentPartDone, &schema.ContentPartStreamingEvent{
		Type:   schema.EventContentPartDone,
		ItemID: s.itemID,
		Part:   schema.NewTextPart(text),
	})
	s.emit(ctx, schema.EventOutputItemDone, &schema.OutputItemStreamingEvent{
		Type: schema.EventOutputItemDone,
		Item: item,
	})
	s.emit(ctx, schema.EventResponseCompleted, &schema.ResponseStreamingEvent{
		Type:     schema.EventResponseCompleted,
		Response: *s.resp,
	})
	if s.writable(ctx) {
		if werr := s.w.WriteDone(); werr != nil {
			s.markClosed(werr)
		}
	}
}

// Response returns the response resource as last rendered.
func (s *StreamRenderer) Response() *schema.Response { return s.resp }

// finalText flushes anything still held back and renders the summary text.
func (s *StreamRenderer) finalText(ctx context.Context) string {
	if !s.suppressed && !s.confirmed {
		if IsSilentReply(s.latest) {
			s.suppress()
		} else {
			s.confirmed = true
			s.emitText(ctx, s.latest)
			s.flushMedia(ctx)
		}
	}
	if s.suppressed {
		return EmptyReplyPlaceholder
	}

	parts := make([]string, 0, 2)
	if body := strings.TrimSpace(s.media.RewriteLocalLinks(ctx, s.latest)); body != "" {
		parts = append(parts, body)
	}
	if md := media.JoinMarkdown(s.resolved); md != "" {
		parts = append(parts, md)
	}
	if len(parts) == 0 {
		return EmptyReplyPlaceholder
	}
	return strings.Join(parts, "\n\n")
}

func (s *StreamRenderer) suppress() {
	s.suppressed = true
	s.queued = nil
	s.resolved = nil
}

func (s *StreamRenderer) queue(refs []string) {
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || s.seen[ref] {
			continue
		}
		s.seen[ref] = true
		s.queued = append(s.queued, ref)
	}
}

// emitText sends the part of visible not yet emitted. A snapshot that only
// shrank emits nothing; one that diverged emits from the common prefix.
func (s *StreamRenderer) emitText(ctx context.Context, visible string) {
	if s.emitted == "" && strings.TrimSpace(visible) == "" {
		return
	}
	var delta string
	switch {
	case strings.HasPrefix(visible, s.emitted):
		delta = visible[len(s.emitted):]
		s.emitted = visible
	case strings.HasPrefix(s.emitted, visible):
		return
	default:
		n := commonPrefixLen(s.emitted, visible)
		delta = visible[n:]
		s.emitted = visible
	}
	if s.afterMedia {
		// Text after a media block starts a new paragraph.
		rest := strings.TrimLeft(delta, " \t\r\n")
		if rest == "" {
			return
		}
		delta = "\n\n" + rest
	}
	s.emitDelta(ctx, delta)
}

func (s *StreamRenderer) flushMedia(ctx context.Context) {
	queued := s.queued
	s.queued = nil
	for _, ref := range queued {
		m := s.media.ResolveMedia(ctx, ref)
		if m.URL == "" {
			continue
		}
		s.resolved = append(s.resolved, m)
		md := m.Markdown()
		if s.rendered.Len() > 0 {
			md = "\n\n" + md
		}
		s.emitDelta(ctx, md)
		s.afterMedia = true
	}
}

func (s *StreamRenderer) emitDelta(ctx context.Context, delta string) {
	if delta == "" {
		return
	}
	if s.emit(ctx, schema.EventOutputTextDelta, &schema.OutputTextDeltaStreamingEvent{
		Type:     schema.EventOutputTextDelta,
		ItemID:   s.itemID,
		Delta:    delta,
		Logprobs: []interface{}{},
	}) {
		s.rendered.WriteString(delta)
		s.afterMedia = false
	}
}

// emit stamps the sequence number and writes one event. It returns false
// once the client is gone.
func (s *StreamRenderer) emit(ctx context.Context, eventType string, event any) bool {
	if !s.writable(ctx) {
		return false
	}
	switch e := event.(type) {
	case *schema.ResponseStreamingEvent:
		e.SequenceNumber = s.seq
	case *schema.OutputItemStreamingEvent:
		e.SequenceNumber = s.seq
	case *schema.ContentPartStreamingEvent:
		e.SequenceNumber = s.seq
	case *schema.OutputTextDeltaStreamingEvent:
		e.SequenceNumber = s.seq
	case *schema.OutputTextDoneStreamingEvent:
		e.SequenceNumber = s.seq
	}
	if err := s.w.WriteEvent(eventType, event); err != nil {
		s.markClosed(err)
		return false
	}
	s.seq++
	return true
}

func (s *StreamRenderer) writable(ctx context.Context) bool {
	if s.closed {
		return false
	}
	if err := ctx.Err(); err != nil {
		s.markClosed(err)
		return false
	}
	return true
}

func (s *StreamRenderer) markClosed(err error) {
	if !s.closed {
		s.log.Debug("stream closed, dropping further events", "response_id", s.resp.ID, "error", err)
	}
	s.closed = true
}

// commonPrefixLen returns the byte length of the longest common prefix of a
// and b, backed off to a rune boundary.
func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	for i > 0 && i < len(b) && !utf8.RuneStart(b[i]) {
		i--
	}
	return i
}

func usageFor(prompt, output string) *schema.UsageField {
	in := estimateTokens(prompt)
	out := estimateTokens(output)
	return &schema.UsageField{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

// estimateTokens is a rough count at ~4 characters per token.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
