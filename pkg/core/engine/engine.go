// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine runs one Responses API turn: it builds the agent prompt,
// resolves the session, dispatches, and renders the reply as a response
// resource or an event stream.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/leseb/openresponses-bridge/pkg/core/schema"
	"github.com/leseb/openresponses-bridge/pkg/core/session"
	"github.com/leseb/openresponses-bridge/pkg/dispatch"
	"github.com/leseb/openresponses-bridge/pkg/observability/logging"
)

// Options configures an Engine.
type Options struct {
	Dispatcher dispatch.Dispatcher
	Sessions   *session.Resolver
	// Media may be nil; references are then passed through.
	Media  MediaResolver
	Inputs *InputBuilder
	Logger *logging.Logger
}

// Engine is the request-scoped entry point shared by all handlers.
type Engine struct {
	dispatcher dispatch.Dispatcher
	sessions   *session.Resolver
	media      MediaResolver
	inputs     *InputBuilder
	log        *logging.Logger
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("session resolver is required")
	}
	if opts.Inputs == nil {
		opts.Inputs = NewInputBuilder(nil, 0)
	}
	var resolver MediaResolver = passthrough{}
	if opts.Media != nil {
		resolver = opts.Media
	}
	return &Engine{
		dispatcher: opts.Dispatcher,
		sessions:   opts.Sessions,
		media:      resolver,
		inputs:     opts.Inputs,
		log:        logging.OrDiscard(opts.Logger),
	}, nil
}

// Turn is a validated request bound to its session.
type Turn struct {
	AgentID    string
	ResponseID string
	ItemID     string
	Request    *schema.ResponseRequest
	Prompt     *Prompt
	Session    session.Resolution
}

// Prepare validates input and resolves the session. Input problems are
// returned before the session store is touched.
func (e *Engine) Prepare(ctx context.Context, agentID string, req *schema.ResponseRequest) (*Turn, error) {
	prompt, err := e.inputs.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	t := &Turn{
		AgentID:    agentID,
		ResponseID: NewID("resp"),
		ItemID:     NewID("msg"),
		Request:    req,
		Prompt:     prompt,
	}
	previous := ""
	if req.PreviousResponseID != nil {
		previous = *req.PreviousResponseID
	}
	t.Session = e.sessions.Resolve(ctx, agentID, previous, t.ResponseID)
	return t, nil
}

func (e *Engine) newResponse(t *Turn) *schema.Response {
	resp := schema.NewResponse(t.ResponseID, t.Request.Model)
	resp.PreviousResponseID = t.Request.PreviousResponseID
	resp.Instructions = t.Request.Instructions
	resp.Metadata = t.Request.Metadata
	return resp
}

func (e *Engine) dispatchRequest(t *Turn) dispatch.Request {
	req := dispatch.Request{
		SessionKey:   t.Session.SessionKey,
		AgentID:      t.AgentID,
		ResponseID:   t.ResponseID,
		Prompt:       t.Prompt.Text,
		SystemPrompt: t.Prompt.SystemPrompt,
		Images:       t.Prompt.Images,
		Model:        t.Request.Model,
		User:         t.Request.User,
	}
	if t.Request.MaxOutputTokens != nil {
		req.MaxOutputTokens = *t.Request.MaxOutputTokens
	}
	return req
}

// Respond runs the turn to completion and returns the response resource.
// Dispatch failures are reported in the resource, never as an error.
func (e *Engine) Respond(ctx context.Context, t *Turn) *schema.Response {
	log := e.turnLogger(t)
	b := NewBufferedRenderer(e.media)
	err := e.dispatcher.Dispatch(ctx, e.dispatchRequest(t), b.Callbacks())
	if err != nil {
		log.Error("agent dispatch failed", "error", err)
	}
	return b.Render(ctx, e.newResponse(t), t.ItemID, t.Prompt.Text, err)
}

// Stream runs the turn, writing events to w as the agent produces them.
func (e *Engine) Stream(ctx context.Context, t *Turn, w EventWriter) *schema.Response {
	log := e.turnLogger(t)
	s := NewStreamRenderer(w, e.newResponse(t), t.ItemID, e.media, log)
	s.SetPrompt(t.Prompt.Text)
	s.Start(ctx)

	err := e.dispatcher.Dispatch(ctx, e.dispatchRequest(t), s.Callbacks(ctx))
	if err != nil && !s.Closed() {
		log.Error("agent dispatch failed", "error", err)
	}
	s.Finish(ctx, err)
	return s.Response()
}

func (e *Engine) turnLogger(t *Turn) *logging.Logger {
	return e.log.With("response_id", t.ResponseID, "agent_id", t.AgentID, "continued", t.Session.Continued)
}

// NewID returns a prefixed random identifier such as resp_3f2a....
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
