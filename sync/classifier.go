// ABOUTME: Change classification into insert, update and skip
// ABOUTME: Applies echo suppression, structural prerequisites and the segment allow-list
package sync

import (
	"slices"

	"github.com/harperreed/crmsync/models"
)

// Classification is a total partition of a batch: every envelope lands in
// exactly one of the three buckets.
type Classification struct {
	ToInsert []*Envelope
	ToUpdate []*Envelope
	ToSkip   []*Envelope
}

// Classifier sorts envelopes into inserts, updates and skips for one kind.
type Classifier struct {
	// SynchronizedSegments is the segment allow-list. An empty list
	// whitelists nothing.
	SynchronizedSegments []string
}

// Classify partitions the batch for the given kind. The rules apply in
// order; the first one that matches decides:
//
//  1. Echo suppression: the change set is non-empty and touches only
//     connector-owned attributes, so it is the shadow of our own write-back.
//  2. Structural prerequisite: the kind needs data the message lacks
//     (account info for accounts, a resolved contact linkage for leads).
//  3. Segment allow-list: records outside the synchronized segments are
//     skipped, linked or not. Batch-extract replays set bypass to let
//     every record through regardless of membership.
//  4. Insert or update by linkage: a known remote id makes it an update.
func (c *Classifier) Classify(kind models.Kind, envs []*Envelope, bypass bool) Classification {
	var out Classification
	for _, env := range envs {
		switch {
		case isEcho(env.Message):
			env.SkipReason = "changed by connector only"
			out.ToSkip = append(out.ToSkip, env)
		case !c.meetsPrerequisites(kind, env):
			out.ToSkip = append(out.ToSkip, env)
		case !bypass && !c.inSynchronizedSegments(env.Message):
			env.SkipReason = "not in synchronized segments"
			out.ToSkip = append(out.ToSkip, env)
		case c.isUpdate(kind, env):
			out.ToUpdate = append(out.ToUpdate, env)
		default:
			out.ToInsert = append(out.ToInsert, env)
		}
	}
	return out
}

// isEcho reports whether every changed attribute is connector-owned or the
// platform's own indexing timestamp. An empty change set is not an echo: it
// is a full refresh and must flow.
func isEcho(msg *models.ChangeMessage) bool {
	fields := msg.Changes.Fields()
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if f == models.IgnoredSystemField || models.IsConnectorField(f) {
			continue
		}
		return false
	}
	return true
}

func (c *Classifier) meetsPrerequisites(kind models.Kind, env *Envelope) bool {
	switch kind {
	case models.KindAccount:
		// Without account data there is nothing to link or create.
		if len(env.Message.Account) == 0 {
			env.SkipReason = "no account information on message"
			return false
		}
	case models.KindLead:
		// Leads hang off a contact; an unresolved contact cannot anchor one.
		if _, ok := env.Message.Linkage(models.KindContact); !ok {
			env.SkipReason = "contact not linked yet"
			return false
		}
	}
	return true
}

func (c *Classifier) isUpdate(kind models.Kind, env *Envelope) bool {
	if _, ok := env.Message.Linkage(kind); ok {
		return true
	}
	return env.Current[kind] != nil
}

func (c *Classifier) inSynchronizedSegments(msg *models.ChangeMessage) bool {
	for _, id := range msg.SegmentIDs() {
		if slices.Contains(c.SynchronizedSegments, id) {
			return true
		}
	}
	return false
}
