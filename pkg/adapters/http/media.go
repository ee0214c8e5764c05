// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"errors"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/leseb/openresponses-bridge/pkg/filestore"
	"github.com/leseb/openresponses-bridge/pkg/media"
)

const (
	mediaPrefix = media.ServePath
	mediaRoute  = media.ServePath + "{id}/{name}"
)

// handleMedia handles GET /v1/media/{id}/{name}. Media ids are unguessable
// and the route is not authenticated, so links work from any client.
func (h *Handler) handleMedia(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "id")
	if fileID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request_error", "Media ID is required")
		return
	}

	file, err := h.media.GetFile(r.Context(), fileID)
	if err != nil {
		if errors.Is(err, filestore.ErrFileNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Media not found")
			return
		}
		h.logger.Error("Failed to get media", "error", err, "media_id", fileID)
		h.writeError(w, http.StatusInternalServerError, "server_error", "Failed to read media")
		return
	}

	content, err := h.media.GetFileContent(r.Context(), fileID)
	if err != nil {
		h.logger.Error("Failed to get media content", "error", err, "media_id", fileID)
		h.writeError(w, http.StatusInternalServerError, "server_error", "Failed to read media")
		return
	}

	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(content)
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": file.Filename}))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, file.Filename, file.CreatedAt, bytes.NewReader(content))
}
