// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package echo is a local dispatcher that replies with the prompt, one word
// at a time. It needs no model backend.
package echo

import (
	"context"
	"strings"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/dispatch"
	"github.com/leseb/openresponses-bridge/pkg/provider"
)

func init() {
	dispatch.Providers.Register("echo", func(_ context.Context, params provider.Params) (dispatch.Dispatcher, error) {
		d := New()
		if delay, ok := params.Millis("delay_ms"); ok {
			d.Delay = delay
		}
		return d, nil
	})
}

// Dispatcher echoes prompts.
type Dispatcher struct {
	// Delay is slept between partial snapshots.
	Delay time.Duration
}

// New returns an echo dispatcher.
func New() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch emits one cumulative snapshot per word of the prompt and delivers
// the full prompt. Images are reported through the side channel.
func (d *Dispatcher) Dispatch(ctx context.Context, req dispatch.Request, cb dispatch.Callbacks) error {
	words := strings.Fields(req.Prompt)
	var sb strings.Builder
	for i, w := range words {
		if err := ctx.Err(); err != nil {
			return err
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w)
		if i < len(words)-1 {
			cb.EmitPartial(dispatch.Payload{Text: sb.String()})
			if d.Delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(d.Delay):
				}
			}
		}
	}
	for _, img := range req.Images {
		cb.EmitSend(dispatch.Payload{MediaURL: img.URL})
	}
	cb.EmitDeliver(dispatch.Payload{Text: sb.String()})
	return nil
}

// Close is a no-op.
func (d *Dispatcher) Close() error { return nil }
