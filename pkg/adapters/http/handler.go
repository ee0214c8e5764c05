// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package http exposes the bridge over the OpenAI Responses API.
package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leseb/openresponses-bridge/pkg/core/engine"
	"github.com/leseb/openresponses-bridge/pkg/filestore"
	"github.com/leseb/openresponses-bridge/pkg/observability/logging"
)

// ResponsesPath is the only API route handled under auth.
const ResponsesPath = "/v1/responses"

// DefaultMaxBodyBytes bounds request bodies when Options leaves it unset.
const DefaultMaxBodyBytes = 20 << 20

// Options configures a Handler.
type Options struct {
	Engine *engine.Engine
	// Media serves published media when set.
	Media filestore.FileStore
	// Tokens maps bearer tokens to agent ids.
	Tokens       map[string]string
	MaxBodyBytes int64
	Logger       *logging.Logger
	// Next receives requests for paths the bridge does not own. Unmatched
	// paths get a 404 when it is nil.
	Next http.Handler
}

// Handler implements the HTTP adapter.
type Handler struct {
	engine  *engine.Engine
	media   filestore.FileStore
	auth    *Authenticator
	maxBody int64
	logger  *logging.Logger
	next    http.Handler
	router  chi.Router
}

// New creates the HTTP handler.
func New(opts Options) *Handler {
	h := &Handler{
		engine:  opts.Engine,
		media:   opts.Media,
		auth:    NewAuthenticator(opts.Tokens),
		maxBody: opts.MaxBodyBytes,
		logger:  logging.OrDiscard(opts.Logger),
		next:    opts.Next,
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/health"))
	r.Use(h.logRequests)

	r.NotFound(h.handleUnmatched)
	r.MethodNotAllowed(h.handleMethodNotAllowed)

	r.With(h.auth.Middleware(h.writeError)).Post(ResponsesPath, h.handleResponses)
	if h.media != nil {
		r.Get(mediaRoute, h.handleMedia)
	}

	h.router = r
	return h
}

// ServeHTTP implements http.Handler. Paths the bridge does not own reach
// next untouched, without passing through the middleware chain.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.next != nil && !h.owns(r.URL.Path) {
		h.next.ServeHTTP(w, r)
		return
	}
	h.router.ServeHTTP(w, r)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if !h.owns(r.URL.Path) {
			return
		}
		h.logger.Info("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr)
	})
}

func (h *Handler) owns(path string) bool {
	return path == ResponsesPath || (h.media != nil && strings.HasPrefix(path, mediaPrefix))
}

func (h *Handler) handleUnmatched(w http.ResponseWriter, r *http.Request) {
	if h.next != nil {
		h.next.ServeHTTP(w, r)
		return
	}
	h.writeError(w, http.StatusNotFound, "not_found", "Not found")
}

func (h *Handler) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	allow := http.MethodPost
	if r.URL.Path != ResponsesPath {
		allow = "GET, HEAD"
	}
	w.Header().Set("Allow", allow)
	h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
}

// writeError writes an error envelope.
func (h *Handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response body", "error", err)
	}
}
