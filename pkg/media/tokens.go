// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package media

import (
	"strings"
)

// TokenPrefix starts a line that references a media file instead of text.
const TokenPrefix = "MEDIA:"

// SplitTokens removes MEDIA:<ref> lines from text and returns the remaining
// visible text and the references in order.
//
// Until final is set the last line may still be growing, so a trailing line
// that starts with (or could still become) a token is hidden without being
// returned as a reference.
func SplitTokens(text string, final bool) (string, []string) {
	if !strings.Contains(text, "M") {
		return text, nil
	}

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	var refs []string
	for i, line := range lines {
		last := i == len(lines)-1
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, TokenPrefix) {
			if last && !final {
				continue
			}
			if ref := cleanRef(trimmed[len(TokenPrefix):]); ref != "" {
				refs = append(refs, ref)
			}
			continue
		}
		if last && !final && trimmed != "" && strings.HasPrefix(TokenPrefix, trimmed) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n"), refs
}

func cleanRef(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`\"'")
	return strings.TrimSpace(s)
}
