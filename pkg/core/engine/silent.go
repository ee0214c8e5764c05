// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import "strings"

// SilentReply is the reply an agent gives when the turn should produce no
// visible output.
const SilentReply = "NO_REPLY"

// EmptyReplyPlaceholder is rendered when a turn ends with nothing to show.
const EmptyReplyPlaceholder = "No response from agent."

// IsSilentReply reports whether text is exactly the silent sentinel.
func IsSilentReply(text string) bool {
	return strings.TrimSpace(text) == SilentReply
}

// MaybeSilent reports whether text could still turn out to be the sentinel.
// The check is case-insensitive and holds in both directions, so a reply
// that merely starts with the sentinel's letters ("No, ...") is held back
// until the two diverge.
func MaybeSilent(text string) bool {
	t := strings.ToUpper(strings.TrimSpace(text))
	if t == "" {
		return true
	}
	return strings.HasPrefix(SilentReply, t) || strings.HasPrefix(t, SilentReply)
}
