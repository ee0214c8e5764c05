// Copyright Open Responses Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"sort"
	"time"
)

// Prune drops expired mappings and then evicts the oldest until at most
// MaxEntries remain. Ties on CreatedAt are broken by turn id so eviction is
// deterministic.
func (o Options) Prune(mappings map[string]Mapping, now time.Time) {
	for turnID, m := range mappings {
		if o.Expired(m.CreatedAt, now) {
			delete(mappings, turnID)
		}
	}

	excess := len(mappings) - o.MaxEntries
	if o.MaxEntries <= 0 || excess <= 0 {
		return
	}

	ids := make([]string, 0, len(mappings))
	for turnID := range mappings {
		ids = append(ids, turnID)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := mappings[ids[i]], mappings[ids[j]]
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return ids[i] < ids[j]
	})
	for _, turnID := range ids[:excess] {
		delete(mappings, turnID)
	}
}
