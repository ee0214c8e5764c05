// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/leseb/openresponses-bridge/pkg/core/schema"
	"github.com/leseb/openresponses-bridge/pkg/dispatch"
	"github.com/leseb/openresponses-bridge/pkg/filestore/extractor"
	"github.com/leseb/openresponses-bridge/pkg/media"
)

// InputError is a request the client must fix.
type InputError struct {
	Err error
}

func (e *InputError) Error() string { return e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

func inputErrorf(format string, args ...any) error {
	return &InputError{Err: fmt.Errorf(format, args...)}
}

// IsInputError reports whether err should be surfaced as a 400.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie) || errors.Is(err, schema.ErrMissingUserMessage)
}

// Prompt is the agent-facing form of a request's input.
type Prompt struct {
	Text         string
	SystemPrompt string
	Images       []dispatch.Image
}

// Remote fetches input_file URLs.
type Remote interface {
	Fetch(ctx context.Context, rawURL string) (*media.Fetched, error)
}

// InputBuilder turns request input into a Prompt.
type InputBuilder struct {
	fetch    Remote
	maxChars int
}

// NewInputBuilder creates an InputBuilder. fetch may be nil, in which case
// file_url inputs are rejected.
func NewInputBuilder(fetch Remote, maxChars int) *InputBuilder {
	if maxChars <= 0 {
		maxChars = extractor.DefaultMaxChars
	}
	return &InputBuilder{fetch: fetch, maxChars: maxChars}
}

// Build returns the prompt for req. The last user message is the prompt;
// earlier turns are rendered as a transcript ahead of it. Instructions and
// system or developer messages become the system prompt, along with the text
// of attached files.
func (b *InputBuilder) Build(ctx context.Context, req *schema.ResponseRequest) (*Prompt, error) {
	var system []string
	if req.Instructions != nil && strings.TrimSpace(*req.Instructions) != "" {
		system = append(system, strings.TrimSpace(*req.Instructions))
	}

	if req.Input == nil {
		return nil, schema.ErrMissingUserMessage
	}
	if req.Input.IsText() {
		text := strings.TrimSpace(req.Input.Text)
		if text == "" {
			return nil, schema.ErrMissingUserMessage
		}
		return &Prompt{Text: text, SystemPrompt: strings.Join(system, "\n\n")}, nil
	}

	items := req.Input.Items
	last := -1
	for i, it := range items {
		if it.Type == schema.ItemTypeMessage && it.Role == "user" && strings.TrimSpace(messageText(it.Content)) != "" {
			last = i
		}
	}
	if last < 0 {
		return nil, schema.ErrMissingUserMessage
	}

	p := &Prompt{}
	var transcript []string
	for i, it := range items {
		if it.Type == schema.ItemTypeFunctionCallOutput {
			transcript = append(transcript, "Tool result: "+it.Output)
			continue
		}

		files, err := b.files(ctx, it.Content)
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(messageText(it.Content))
		switch it.Role {
		case "system", "developer":
			if text != "" {
				system = append(system, text)
			}
		case "assistant":
			if text != "" {
				transcript = append(transcript, "Assistant: "+text)
			}
		default:
			if i == last {
				p.Text = text
				p.Images = images(it.Content)
			} else if text != "" {
				transcript = append(transcript, "User: "+text)
			}
		}
		system = append(system, files...)
	}

	if len(transcript) > 0 {
		p.Text = "Conversation so far:\n" + strings.Join(transcript, "\n") + "\n\n" + p.Text
	}
	p.SystemPrompt = strings.Join(system, "\n\n")
	return p, nil
}

func messageText(c *schema.MessageContent) string {
	if c == nil {
		return ""
	}
	if c.IsText() {
		return c.Text
	}
	var parts []string
	for _, part := range c.Parts {
		if part.Type == schema.PartInputText || part.Type == schema.PartOutputText {
			if part.Text != "" {
				parts = append(parts, part.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func images(c *schema.MessageContent) []dispatch.Image {
	if c == nil || c.IsText() {
		return nil
	}
	var out []dispatch.Image
	for _, part := range c.Parts {
		if part.Type != schema.PartInputImage {
			continue
		}
		url := part.ImageURL
		if url == "" && part.Source != nil {
			url = sourceURL(part.Source)
		}
		if url != "" {
			out = append(out, dispatch.Image{URL: url, Detail: part.Detail})
		}
	}
	return out
}

func sourceURL(s *schema.PartSource) string {
	if s.Type == "url" {
		return s.URL
	}
	if s.Data == "" {
		return ""
	}
	mt := s.MediaType
	if mt == "" {
		mt = "application/octet-stream"
	}
	return "data:" + mt + ";base64," + s.Data
}

func (b *InputBuilder) files(ctx context.Context, c *schema.MessageContent) ([]string, error) {
	if c == nil || c.IsText() {
		return nil, nil
	}
	var out []string
	for _, part := range c.Parts {
		if part.Type != schema.PartInputFile {
			continue
		}
		f, err := b.loadFile(ctx, part)
		if err != nil {
			return nil, err
		}
		text, err := extractor.Extract(f.Data, f.Filename, f.MimeType, b.maxChars)
		if err != nil {
			return nil, inputErrorf("input_file %q: %w", f.Filename, err)
		}
		out = append(out, fmt.Sprintf("<file name=%q>\n%s\n</file>", f.Filename, text))
	}
	return out, nil
}

func (b *InputBuilder) loadFile(ctx context.Context, part schema.InputPart) (*media.Fetched, error) {
	name := part.Filename
	data, remote := part.FileData, part.FileURL
	mimeType := ""
	if s := part.Source; s != nil {
		if name == "" {
			name = s.Filename
		}
		mimeType = s.MediaType
		if s.Type == "url" {
			remote = s.URL
		} else {
			data = s.Data
		}
	}

	var f *media.Fetched
	switch {
	case data != "" && strings.HasPrefix(strings.ToLower(data), "data:"):
		decoded, err := media.DecodeDataURL(data)
		if err != nil {
			return nil, &InputError{Err: err}
		}
		f = decoded
	case data != "":
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, inputErrorf("input_file: invalid base64 file_data: %w", err)
		}
		f = &media.Fetched{Data: raw}
	case remote != "":
		if b.fetch == nil {
			return nil, inputErrorf("input_file: file_url is not supported")
		}
		fetched, err := b.fetch.Fetch(ctx, remote)
		if err != nil {
			return nil, inputErrorf("input_file: %w", err)
		}
		f = fetched
	default:
		return nil, inputErrorf("input_file: no content")
	}

	if name != "" {
		f.Filename = name
	}
	if f.Filename == "" {
		f.Filename = "file"
	}
	if mimeType != "" {
		f.MimeType = mimeType
	}
	if f.MimeType == "" || f.MimeType == "application/octet-stream" {
		f.MimeType = media.DetectType(f.Filename, f.Data)
	}
	return f, nil
}
