// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package extractor

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
)

// renderCSV renders rows as a markdown table with the first row as header.
// Ragged rows are padded. Unparsable content is passed through as text.
func renderCSV(content []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	var rows [][]string
	width := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return renderText(content)
		}
		rows = append(rows, rec)
		width = max(width, len(rec))
	}
	if len(rows) == 0 {
		return "", nil
	}

	var sb strings.Builder
	writeRow := func(cells []string) {
		sb.WriteString("|")
		for i := 0; i < width; i++ {
			cell := ""
			if i < len(cells) {
				cell = cellText(cells[i])
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}
	writeRow(rows[0])
	sb.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return sb.String(), nil
}

var cellEscaper = strings.NewReplacer("|", `\|`, "\r\n", " ", "\n", " ")

func cellText(s string) string {
	return cellEscaper.Replace(strings.TrimSpace(s))
}
