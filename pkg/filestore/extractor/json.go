// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// renderJSON indents a JSON document. A JSON Lines file is a stream of
// values and comes out as one indented value per block. Content that is not
// valid JSON is passed through as text.
func renderJSON(content []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	var values []string
	for {
		var raw json.RawMessage
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return renderText(content)
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return renderText(content)
		}
		values = append(values, buf.String())
	}
	if len(values) == 0 {
		return renderText(content)
	}
	return strings.Join(values, "\n\n"), nil
}
