// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Streaming event types emitted by the bridge.
const (
	EventResponseCreated    = "response.created"
	EventResponseInProgress = "response.in_progress"
	EventResponseCompleted  = "response.completed"
	EventOutputItemAdded    = "response.output_item.added"
	EventOutputItemDone     = "response.output_item.done"
	EventContentPartAdded   = "response.content_part.added"
	EventContentPartDone    = "response.content_part.done"
	EventOutputTextDelta    = "response.output_text.delta"
	EventOutputTextDone     = "response.output_text.done"
)

// ResponseStreamingEvent carries a full response resource:
// response.created, response.in_progress, response.completed
type ResponseStreamingEvent struct {
	Type           string   `json:"type"`
	SequenceNumber int      `json:"sequence_number"`
	Response       Response `json:"response"`
}

// OutputItemStreamingEvent - response.output_item.added / .done
type OutputItemStreamingEvent struct {
	Type           string    `json:"type"`
	SequenceNumber int       `json:"sequence_number"`
	OutputIndex    int       `json:"output_index"`
	Item           ItemField `json:"item"`
}

// ContentPartStreamingEvent - response.content_part.added / .done
type ContentPartStreamingEvent struct {
	Type           string      `json:"type"`
	SequenceNumber int         `json:"sequence_number"`
	ItemID         string      `json:"item_id"`
	OutputIndex    int         `json:"output_index"`
	ContentIndex   int         `json:"content_index"`
	Part           ContentPart `json:"part"`
}

// OutputTextDeltaStreamingEvent - response.output_text.delta
type OutputTextDeltaStreamingEvent struct {
	Type           string        `json:"type"`
	SequenceNumber int           `json:"sequence_number"`
	ItemID         string        `json:"item_id"`
	OutputIndex    int           `json:"output_index"`
	ContentIndex   int           `json:"content_index"`
	Delta          string        `json:"delta"`
	Logprobs       []interface{} `json:"logprobs" swaggertype:"object"`
}

// OutputTextDoneStreamingEvent - response.output_text.done
type OutputTextDoneStreamingEvent struct {
	Type           string        `json:"type"`
	SequenceNumber int           `json:"sequence_number"`
	ItemID         string        `json:"item_id"`
	OutputIndex    int           `json:"output_index"`
	ContentIndex   int           `json:"content_index"`
	Text           string        `json:"text"`
	Logprobs       []interface{} `json:"logprobs" swaggertype:"object"`
}
