// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/leseb/openresponses-bridge/pkg/core/engine"
	"github.com/leseb/openresponses-bridge/pkg/core/schema"
)

// handleResponses handles POST /v1/responses
func (h *Handler) handleResponses(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "invalid_request_error",
				fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "Failed to read request body")
		return
	}

	req, err := schema.DecodeRequest(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return
	}

	agentID := AgentID(r.Context())
	turn, err := h.engine.Prepare(r.Context(), agentID, req)
	if err != nil {
		if engine.IsInputError(err) {
			h.writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
			return
		}
		h.logger.Error("Failed to prepare request", "error", err)
		h.writeError(w, http.StatusInternalServerError, "server_error", "Failed to prepare request")
		return
	}

	h.logger.Info("Processing response request",
		"response_id", turn.ResponseID,
		"agent_id", agentID,
		"stream", req.Stream,
		"continued", turn.Session.Continued)

	if req.Stream {
		h.handleStreamingResponse(w, r, turn)
		return
	}

	resp := h.engine.Respond(r.Context(), turn)
	h.writeJSON(w, http.StatusOK, resp)

	h.logger.Info("Response sent",
		"response_id", resp.ID,
		"status", resp.Status)
}

// handleStreamingResponse handles SSE streaming
func (h *Handler) handleStreamingResponse(w http.ResponseWriter, r *http.Request, turn *engine.Turn) {
	sse, err := newSSEWriter(w)
	if errors.Is(err, errStreamingUnsupported) {
		h.writeError(w, http.StatusInternalServerError, "streaming_not_supported", "Streaming not supported")
		return
	}
	if err != nil {
		// Headers are already out.
		h.logger.Warn("Failed to start stream", "error", err)
		return
	}

	resp := h.engine.Stream(r.Context(), turn, sse)

	h.logger.Info("Streaming completed",
		"response_id", resp.ID,
		"status", resp.Status,
		"client_closed", sse.closed)
}
