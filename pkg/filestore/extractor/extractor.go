// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

// Package extractor turns input_file attachments into plain text that can be
// handed to the agent as part of its system prompt.
package extractor

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for content types that cannot be rendered as text.
var ErrUnsupported = errors.New("unsupported file type")

// DefaultMaxChars bounds the extracted text of a single file.
const DefaultMaxChars = 200_000

const truncatedMarker = "\n[truncated]"

// format renders one kind of document as prompt text.
type format func(content []byte) (string, error)

var formats = map[string]format{
	"text":     renderText,
	"markdown": renderText,
	"html":     renderHTML,
	"csv":      renderCSV,
	"json":     renderJSON,
	"pdf":      renderPDF,
}

var formatByType = map[string]string{
	"text/plain":            "text",
	"text/markdown":         "markdown",
	"text/x-markdown":       "markdown",
	"text/html":             "html",
	"application/xhtml+xml": "html",
	"text/csv":              "csv",
	"application/json":      "json",
	"application/x-ndjson":  "json",
	"application/jsonl":     "json",
	"application/pdf":       "pdf",
}

var formatByExt = map[string]string{
	".md":       "markdown",
	".markdown": "markdown",
	".html":     "html",
	".htm":      "html",
	".csv":      "csv",
	".json":     "json",
	".jsonl":    "json",
	".ndjson":   "json",
	".pdf":      "pdf",
}

// Supported reports whether mimeType (parameters allowed) can be extracted.
func Supported(mimeType string) bool {
	_, ok := formatByType[baseType(mimeType)]
	return ok
}

// Extract renders an attachment as text. The declared MIME type wins; an
// empty or generic type falls back to the filename extension, and anything
// unrecognised is read as UTF-8 text. The result is cut at maxChars runes
// (DefaultMaxChars when maxChars <= 0).
func Extract(content []byte, filename, mimeType string, maxChars int) (string, error) {
	name, err := pickFormat(filename, mimeType)
	if err != nil {
		return "", err
	}
	text, err := formats[name](content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", name, err)
	}
	return truncate(strings.TrimSpace(text), maxChars), nil
}

func pickFormat(filename, mimeType string) (string, error) {
	base := baseType(mimeType)
	if name, ok := formatByType[base]; ok {
		return name, nil
	}
	if base != "" && base != "application/octet-stream" && !strings.HasPrefix(base, "text/") {
		return "", fmt.Errorf("%s: %w", base, ErrUnsupported)
	}
	if name, ok := formatByExt[strings.ToLower(filepath.Ext(filename))]; ok {
		return name, nil
	}
	return "text", nil
}

func baseType(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mt
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i] + truncatedMarker
		}
		n++
	}
	return s
}
