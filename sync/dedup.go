// ABOUTME: Change message deduplication
// ABOUTME: Collapses a batch to the newest message per business key
package sync

import "github.com/harperreed/crmsync/models"

// Deduplicate collapses a batch to one message per business key, keeping the
// message with the highest arrival index. First-occurrence order of keys is
// preserved and messages are never modified. Messages without a business key
// pass through untouched.
func Deduplicate(messages []*models.ChangeMessage) []*models.ChangeMessage {
	if len(messages) <= 1 {
		return messages
	}

	type slot struct {
		pos   int
		index float64
	}
	best := make(map[string]slot, len(messages))
	out := make([]*models.ChangeMessage, 0, len(messages))

	for _, msg := range messages {
		key := msg.BusinessKey()
		if key == "" {
			out = append(out, msg)
			continue
		}
		idx := msg.Index()
		if s, seen := best[key]; seen {
			if idx >= s.index {
				out[s.pos] = msg
				best[key] = slot{pos: s.pos, index: idx}
			}
			continue
		}
		best[key] = slot{pos: len(out), index: idx}
		out = append(out, msg)
	}
	return out
}
