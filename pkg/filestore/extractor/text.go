// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// renderText accepts UTF-8 only. CRLF line endings are normalised.
func renderText(content []byte) (string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)
	if !utf8.Valid(content) || bytes.IndexByte(content, 0) >= 0 {
		return "", ErrUnsupported
	}
	return strings.ReplaceAll(string(content), "\r\n", "\n"), nil
}
