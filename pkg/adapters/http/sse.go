// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/leseb/openresponses-bridge/pkg/core/engine"
)

var (
	errStreamClosed         = errors.New("stream closed")
	errStreamingUnsupported = errors.New("streaming not supported")
)

// sseWriter writes Server-Sent Events and flushes after each one. The first
// failed write marks it closed and every later write is dropped.
type sseWriter struct {
	w      io.Writer
	rc     *http.ResponseController
	closed bool
}

var _ engine.EventWriter = (*sseWriter)(nil)

// newSSEWriter commits the stream headers. It fails with
// errStreamingUnsupported, before anything is written, when w cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	if !canFlush(w) {
		return nil, errStreamingUnsupported
	}
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		return nil, err
	}
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})
	return &sseWriter{w: w, rc: rc}, nil
}

// WriteEvent writes one named event with a JSON payload.
func (s *sseWriter) WriteEvent(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return s.write("event: " + eventType + "\ndata: " + string(data) + "\n\n")
}

// WriteDone writes the stream terminator.
func (s *sseWriter) WriteDone() error {
	return s.write("data: [DONE]\n\n")
}

func (s *sseWriter) write(frame string) error {
	if s.closed {
		return errStreamClosed
	}
	if _, err := io.WriteString(s.w, frame); err != nil {
		s.closed = true
		return err
	}
	if err := s.rc.Flush(); err != nil {
		s.closed = true
		return err
	}
	return nil
}

// canFlush follows Unwrap the same way http.ResponseController does.
func canFlush(w http.ResponseWriter) bool {
	for {
		switch t := w.(type) {
		case http.Flusher:
			return true
		case interface{ Unwrap() http.ResponseWriter }:
			w = t.Unwrap()
		default:
			return false
		}
	}
}
