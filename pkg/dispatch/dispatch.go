// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch defines the agent pipeline a Responses request is handed
// to, and the callbacks the pipeline reports its reply through.
package dispatch

import (
	"context"

	"github.com/leseb/openresponses-bridge/pkg/provider"
)

// Providers is the registry of dispatcher implementations.
//
//	import _ "github.com/leseb/openresponses-bridge/pkg/dispatch/openai"
//	import _ "github.com/leseb/openresponses-bridge/pkg/dispatch/echo"
var Providers = provider.NewRegistry[Dispatcher]("dispatcher")

// Payload is a cumulative reply snapshot: Text holds everything generated so
// far, not a delta.
type Payload struct {
	Text      string
	MediaURL  string
	MediaURLs []string
}

// Media returns every media reference carried by the payload.
func (p Payload) Media() []string {
	if p.MediaURL == "" {
		return p.MediaURLs
	}
	out := make([]string, 0, len(p.MediaURLs)+1)
	out = append(out, p.MediaURL)
	for _, u := range p.MediaURLs {
		if u != p.MediaURL {
			out = append(out, u)
		}
	}
	return out
}

// Image is an image attachment. URL may be remote or a data URL.
type Image struct {
	URL    string
	Detail string
}

// Request is one agent turn.
type Request struct {
	SessionKey   string
	AgentID      string
	ResponseID   string
	Prompt       string
	SystemPrompt string
	Images       []Image
	// Model is the client-requested model; backends may ignore it.
	Model           string
	User            string
	MaxOutputTokens int
}

// Callbacks receive the reply. For one Dispatch call they are never invoked
// concurrently with each other.
type Callbacks struct {
	// Partial is called zero or more times while generating.
	Partial func(Payload)
	// Deliver is called once with the final payload on success.
	Deliver func(Payload)
	// Send carries extra media emitted outside the reply text.
	Send func(Payload)
}

// EmitPartial calls Partial when set.
func (c Callbacks) EmitPartial(p Payload) {
	if c.Partial != nil {
		c.Partial(p)
	}
}

// EmitDeliver calls Deliver when set.
func (c Callbacks) EmitDeliver(p Payload) {
	if c.Deliver != nil {
		c.Deliver(p)
	}
}

// EmitSend calls Send when set.
func (c Callbacks) EmitSend(p Payload) {
	if c.Send != nil {
		c.Send(p)
	}
}

// Dispatcher runs an agent turn. Dispatch blocks until the turn is complete;
// a non-nil error means the reply failed, whether or not Deliver was called.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request, cb Callbacks) error
	Close() error
}

// Func adapts a function to Dispatcher.
type Func func(ctx context.Context, req Request, cb Callbacks) error

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, req Request, cb Callbacks) error {
	return f(ctx, req, cb)
}

// Close is a no-op.
func (f Func) Close() error { return nil }
