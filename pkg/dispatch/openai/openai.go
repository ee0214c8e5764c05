// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package openai dispatches agent turns to an OpenAI-compatible chat
// completions backend (OpenAI, Ollama, vLLM) and keeps per-session history
// so continued conversations carry context.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/leseb/openresponses-bridge/pkg/dispatch"
	"github.com/leseb/openresponses-bridge/pkg/observability/logging"
	"github.com/leseb/openresponses-bridge/pkg/provider"
)

const (
	defaultModel        = "gpt-4o-mini"
	defaultTimeout      = 5 * time.Minute
	defaultHistoryTurns = 20
	defaultMaxSessions  = 1024
)

func init() {
	dispatch.Providers.Register("openai", func(_ context.Context, params provider.Params) (dispatch.Dispatcher, error) {
		opts := Options{
			BaseURL:      params.String("model_endpoint"),
			APIKey:       params.String("api_key"),
			Model:        params.String("model"),
			SystemPrompt: params["system_prompt"],
			MaxRetries:   2,
		}
		if v, ok := params.Duration("timeout"); ok {
			opts.Timeout = v
		}
		if v, ok := params.Int("history_turns"); ok {
			opts.HistoryTurns = v
		}
		return New(opts), nil
	})
}

// Options configures the dispatcher.
type Options struct {
	BaseURL      string
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
	// HistoryTurns bounds the remembered exchanges per session; negative
	// disables history.
	HistoryTurns int
	// MaxSessions bounds how many sessions keep history in memory.
	MaxSessions int
	MaxRetries  int
	Logger      *logging.Logger
}

type turn struct {
	user      string
	assistant string
}

type session struct {
	turns    []turn
	lastUsed time.Time
}

// Dispatcher implements dispatch.Dispatcher over chat completions.
type Dispatcher struct {
	client oai.Client
	opts   Options
	log    *logging.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

// New creates a dispatcher. An empty API key is replaced with a placeholder
// so local backends without auth still work.
func New(opts Options) *Dispatcher {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.HistoryTurns == 0 {
		opts.HistoryTurns = defaultHistoryTurns
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}

	reqOpts := []option.RequestOption{option.WithMaxRetries(opts.MaxRetries)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	} else {
		reqOpts = append(reqOpts, option.WithAPIKey("dummy"))
	}

	return &Dispatcher{
		client:   oai.NewClient(reqOpts...),
		opts:     opts,
		log:      logging.OrDiscard(opts.Logger),
		sessions: make(map[string]*session),
	}
}

// Dispatch streams one completion. Every content chunk publishes the text so
// far through Partial; the full text goes to Deliver once the stream ends.
func (d *Dispatcher) Dispatch(ctx context.Context, req dispatch.Request, cb dispatch.Callbacks) error {
	if strings.TrimSpace(req.Prompt) == "" && len(req.Images) == 0 {
		return ErrEmptyPrompt
	}
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(d.opts.Model),
		Messages: d.buildMessages(req),
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = oai.Int(int64(req.MaxOutputTokens))
	}
	if req.User != "" {
		params.User = oai.String(req.User)
	}

	stream := d.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var sb strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		grew := false
		for _, choice := range chunk.Choices {
			if choice.Index == 0 && choice.Delta.Content != "" {
				sb.WriteString(choice.Delta.Content)
				grew = true
			}
		}
		if grew {
			cb.EmitPartial(dispatch.Payload{Text: sb.String()})
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("chat completion stream: %w", err)
	}

	text := sb.String()
	if text == "" && ctx.Err() != nil {
		return ctx.Err()
	}
	d.remember(req.SessionKey, req.Prompt, text)
	cb.EmitDeliver(dispatch.Payload{Text: text})
	return nil
}

func (d *Dispatcher) buildMessages(req dispatch.Request) []oai.ChatCompletionMessageParamUnion {
	var messages []oai.ChatCompletionMessageParamUnion

	system := joinNonEmpty("\n\n", d.opts.SystemPrompt, req.SystemPrompt)
	if system != "" {
		messages = append(messages, oai.SystemMessage(system))
	}

	for _, t := range d.history(req.SessionKey) {
		messages = append(messages, oai.UserMessage(t.user), oai.AssistantMessage(t.assistant))
	}

	if len(req.Images) == 0 {
		return append(messages, oai.UserMessage(req.Prompt))
	}
	parts := make([]oai.ChatCompletionContentPartUnionParam, 0, len(req.Images)+1)
	if req.Prompt != "" {
		parts = append(parts, oai.TextContentPart(req.Prompt))
	}
	for _, img := range req.Images {
		imgParam := oai.ChatCompletionContentPartImageImageURLParam{URL: img.URL}
		if img.Detail != "" {
			imgParam.Detail = img.Detail
		}
		parts = append(parts, oai.ImageContentPart(imgParam))
	}
	return append(messages, oai.UserMessage(parts))
}

func (d *Dispatcher) history(key string) []turn {
	if key == "" || d.opts.HistoryTurns < 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[key]
	if !ok {
		return nil
	}
	return append([]turn(nil), s.turns...)
}

func (d *Dispatcher) remember(key, user, assistant string) {
	if key == "" || d.opts.HistoryTurns < 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[key]
	if !ok {
		if len(d.sessions) >= d.opts.MaxSessions {
			d.evictOldest()
		}
		s = &session{}
		d.sessions[key] = s
	}
	s.turns = append(s.turns, turn{user: user, assistant: assistant})
	if over := len(s.turns) - d.opts.HistoryTurns; over > 0 {
		s.turns = append([]turn(nil), s.turns[over:]...)
	}
	s.lastUsed = time.Now()
}

// evictOldest drops the least recently used session. Callers hold d.mu.
func (d *Dispatcher) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, s := range d.sessions {
		if oldestKey == "" || s.lastUsed.Before(oldest) {
			oldestKey, oldest = k, s.lastUsed
		}
	}
	if oldestKey != "" {
		d.log.Debug("evicting session history", "session_key", oldestKey)
		delete(d.sessions, oldestKey)
	}
}

// Close drops all history.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = make(map[string]*session)
	return nil
}

// ErrEmptyPrompt is returned when a request carries neither text nor images.
var ErrEmptyPrompt = errors.New("empty prompt")

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
