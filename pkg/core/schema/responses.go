// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMissingUserMessage is returned when the request input carries no user text.
var ErrMissingUserMessage = errors.New("missing user message in `input`")

// Response statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
	StatusIncomplete = "incomplete"
)

// ResponseRequest represents a request to the /v1/responses endpoint.
// Only the fields the bridge acts on are modelled; anything else is ignored.
type ResponseRequest struct {
	// Model ID; echoed back, the agent decides what actually runs
	Model string `json:"model,omitempty"`

	// Input is either a plain string or a list of items
	Input *Input `json:"input"`

	// Instructions (system message)
	Instructions *string `json:"instructions,omitempty"`

	// Previous response ID for multi-turn conversations
	PreviousResponseID *string `json:"previous_response_id,omitempty"`

	// Whether to stream the response as SSE
	Stream bool `json:"stream,omitempty"`

	// End-user identifier, forwarded to the agent
	User string `json:"user,omitempty"`

	// Metadata key-value pairs, echoed back
	Metadata map[string]string `json:"metadata,omitempty"`

	// Maximum output tokens, forwarded to the dispatcher when it supports it
	MaxOutputTokens *int `json:"max_output_tokens,omitempty"`

	// Accepted for compatibility; client tools are not executed by the bridge
	Tools      []json.RawMessage `json:"tools,omitempty" swaggertype:"object"`
	ToolChoice json.RawMessage   `json:"tool_choice,omitempty" swaggertype:"object"`
}

// Validate validates the request shape. Content rules (a user message must be
// present) are enforced when the prompt is built.
func (r *ResponseRequest) Validate() error {
	if r.Input == nil {
		return fmt.Errorf("input is required")
	}
	if r.MaxOutputTokens != nil && *r.MaxOutputTokens <= 0 {
		return fmt.Errorf("max_output_tokens must be positive")
	}
	if r.PreviousResponseID != nil && *r.PreviousResponseID == "" {
		r.PreviousResponseID = nil
	}
	return nil
}

// DecodeRequest strictly parses a request body. Unknown input item or content
// part types are reported as errors.
func DecodeRequest(body []byte) (*ResponseRequest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("request body is empty")
	}
	var req ResponseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}

// Response represents a response resource.
type Response struct {
	// Unique identifier
	ID string `json:"id"`

	// Object type, always "response"
	Object string `json:"object"`

	// Creation timestamp
	CreatedAt int64 `json:"created_at"`

	// Completion timestamp
	CompletedAt *int64 `json:"completed_at"` // nullable

	// Model echoed from the request
	Model string `json:"model"`

	// Status: "in_progress", "completed", "failed", "cancelled", "incomplete"
	Status string `json:"status"`

	// Output items
	Output []ItemField `json:"output"` // required array (empty or populated)

	// Token usage
	Usage *UsageField `json:"usage"` // nullable

	// Error details if status is "failed" (must be present, can be null)
	Error *ErrorField `json:"error"`

	PreviousResponseID *string           `json:"previous_response_id"` // nullable
	Instructions       *string           `json:"instructions"`         // nullable
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ItemField represents an output item. The bridge only produces assistant
// messages.
type ItemField struct {
	Type    string        `json:"type"` // "message"
	ID      string        `json:"id"`
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
	Status  string        `json:"status"` // "in_progress", "completed"
}

// ContentPart represents a part of output message content.
type ContentPart struct {
	Type        string       `json:"type"` // "output_text"
	Text        string       `json:"text"`
	Annotations []Annotation `json:"annotations"`
}

// Annotation is a citation on output text. The bridge never emits any, the
// field is present because clients expect the array.
type Annotation struct {
	Type       string `json:"type"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
}

// UsageField represents token usage
type UsageField struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// ErrorField represents error information
type ErrorField struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewResponse creates a new in-progress Response.
func NewResponse(id, model string) *Response {
	return &Response{
		ID:        id,
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Model:     model,
		Status:    StatusInProgress,
		Output:    make([]ItemField, 0),
	}
}

// NewMessageItem returns an assistant output message holding text.
func NewMessageItem(id, text, status string) ItemField {
	return ItemField{
		Type:    "message",
		ID:      id,
		Role:    "assistant",
		Content: []ContentPart{NewTextPart(text)},
		Status:  status,
	}
}

// NewTextPart returns an output_text part.
func NewTextPart(text string) ContentPart {
	return ContentPart{Type: "output_text", Text: text, Annotations: []Annotation{}}
}

// MarkCompleted marks the response as completed
func (r *Response) MarkCompleted() {
	r.Status = StatusCompleted
	now := time.Now().Unix()
	r.CompletedAt = &now
}

// MarkFailed marks the response as failed with an error
func (r *Response) MarkFailed(code, message string) {
	r.Status = StatusFailed
	r.Error = &ErrorField{
		Type:    "server_error",
		Code:    code,
		Message: message,
	}
}
