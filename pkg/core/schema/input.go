// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Input item types.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// Content part types accepted in input messages.
const (
	PartInputText  = "input_text"
	PartOutputText = "output_text"
	PartInputImage = "input_image"
	PartInputFile  = "input_file"
)

// Input is the request "input" field: either plain text or a list of items.
// Exactly one of Text or Items is meaningful, as reported by IsText.
type Input struct {
	Text  string
	Items []InputItem
	text  bool
}

// TextInput returns an Input holding plain text.
func TextInput(s string) *Input { return &Input{Text: s, text: true} }

// ItemsInput returns an Input holding items.
func ItemsInput(items ...InputItem) *Input { return &Input{Items: items} }

// IsText reports whether the input was given as a plain string.
func (in *Input) IsText() bool { return in.text }

// UnmarshalJSON accepts a JSON string or an array of items.
func (in *Input) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		return fmt.Errorf("input is required")
	case data[0] == '"':
		*in = Input{text: true}
		return json.Unmarshal(data, &in.Text)
	case data[0] == '[':
		var items []InputItem
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*in = Input{Items: items}
		return nil
	default:
		return fmt.Errorf("input must be a string or an array of items")
	}
}

// MarshalJSON writes the variant that was decoded.
func (in Input) MarshalJSON() ([]byte, error) {
	if in.text {
		return json.Marshal(in.Text)
	}
	if in.Items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(in.Items)
}

// InputItem is one element of an item-list input.
//
//	{"type":"message","role":"user","content":"hi"}
//	{"role":"user","content":[{"type":"input_text","text":"hi"}]}   (type defaults to message)
//	{"type":"function_call_output","call_id":"call_1","output":"42"}
type InputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"` // user, assistant, system, developer
	Content *MessageContent `json:"content,omitempty"`
	CallID  string          `json:"call_id,omitempty"`
	Output  string          `json:"output,omitempty"`
}

// UnmarshalJSON validates the item type and its required fields.
func (it *InputItem) UnmarshalJSON(data []byte) error {
	type alias InputItem
	var raw struct {
		alias
		Output json.RawMessage `json:"output,omitempty"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*it = InputItem(raw.alias)
	if it.Type == "" && it.Role != "" {
		it.Type = ItemTypeMessage
	}

	switch it.Type {
	case ItemTypeMessage:
		switch it.Role {
		case "user", "assistant", "system", "developer":
		default:
			return fmt.Errorf("message item has unsupported role %q", it.Role)
		}
		if it.Content == nil {
			it.Content = &MessageContent{}
		}
	case ItemTypeFunctionCallOutput:
		out, err := decodeOutput(raw.Output)
		if err != nil {
			return err
		}
		it.Output = out
	default:
		return fmt.Errorf("unsupported input item type %q", it.Type)
	}
	return nil
}

// decodeOutput accepts a string or any JSON value, which is kept verbatim.
func decodeOutput(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(raw), nil
}

// MessageContent is a message's content: a plain string or a list of parts.
type MessageContent struct {
	Text  string
	Parts []InputPart
	text  bool
}

// TextContent returns content holding plain text.
func TextContent(s string) *MessageContent { return &MessageContent{Text: s, text: true} }

// PartsContent returns content holding parts.
func PartsContent(parts ...InputPart) *MessageContent { return &MessageContent{Parts: parts} }

// IsText reports whether the content was given as a plain string.
func (c *MessageContent) IsText() bool { return c.text }

// UnmarshalJSON accepts a JSON string or an array of parts.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = MessageContent{}
		return nil
	case data[0] == '"':
		*c = MessageContent{text: true}
		return json.Unmarshal(data, &c.Text)
	case data[0] == '[':
		var parts []InputPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = MessageContent{Parts: parts}
		return nil
	default:
		return fmt.Errorf("message content must be a string or an array of parts")
	}
}

// MarshalJSON writes the variant that was decoded.
func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.text {
		return json.Marshal(c.Text)
	}
	if c.Parts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c.Parts)
}

// InputPart is one content part of an input message.
type InputPart struct {
	Type string `json:"type"`

	// input_text, output_text
	Text string `json:"text,omitempty"`

	// input_image: URL or data URL
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`

	// input_file: base64 payload or data URL, or a remote URL
	FileData string `json:"file_data,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
	Filename string `json:"filename,omitempty"`

	// Alternative source object for images and files
	Source *PartSource `json:"source,omitempty"`
}

// PartSource is the {"type":"url"|"base64", ...} form of an image or file.
type PartSource struct {
	Type      string `json:"type"`
	URL       string `json:"url,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	Filename  string `json:"filename,omitempty"`
}

// UnmarshalJSON validates the part type.
func (p *InputPart) UnmarshalJSON(data []byte) error {
	type alias InputPart
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*p = InputPart(a)

	switch p.Type {
	case PartInputText, PartOutputText:
	case PartInputImage:
		if p.ImageURL == "" && p.Source == nil {
			return fmt.Errorf("input_image requires image_url or source")
		}
	case PartInputFile:
		if p.FileData == "" && p.FileURL == "" && p.Source == nil {
			return fmt.Errorf("input_file requires file_data, file_url or source")
		}
	default:
		return fmt.Errorf("unsupported content part type %q", p.Type)
	}
	if p.Source != nil && p.Source.Type != "url" && p.Source.Type != "base64" {
		return fmt.Errorf("unsupported source type %q", p.Source.Type)
	}
	return nil
}
