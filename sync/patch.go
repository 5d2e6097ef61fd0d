// ABOUTME: Minimal conflict-checked patch computation
// ABOUTME: Diffs desired payloads against current remote state per slot subtype
package sync

import (
	"errors"
	"fmt"

	"github.com/harperreed/crmsync/config"
	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/remote"
)

// ErrIdentifierMismatch reports a desired payload aimed at a different
// entity than the current state.
var ErrIdentifierMismatch = errors.New("identifier mismatch between desired and current state")

// ErrRevisionMismatch reports stale linkage: the stored revision no longer
// matches the remote's current revision.
var ErrRevisionMismatch = errors.New("revision mismatch between desired and current state")

// MismatchError carries the conflicting values alongside the sentinel.
type MismatchError struct {
	Sentinel error
	Desired  string
	Current  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: desired %q, current %q", e.Sentinel, e.Desired, e.Current)
}

func (e *MismatchError) Is(target error) bool {
	return target == e.Sentinel
}

// PatchResult is the outcome of one patch computation.
type PatchResult struct {
	// HasChanges is false when the remote already matches the desired state.
	HasChanges bool
	// Patch is the minimal field set to send, with the current revision
	// attached for optimistic concurrency. The entity id is never included.
	Patch map[string]any
}

// PatchComputer diffs desired payloads against current remote entities using
// the compiled mapping set.
type PatchComputer struct {
	Mappings map[models.Kind][]config.CompiledMapping
}

// CreatePatch computes the minimal patch turning current into desired for
// the mapped fields of the kind. It refuses mismatched identities and stale
// revisions rather than producing a patch that would clobber concurrent
// edits. With no mappings configured there is nothing to diff and the
// result is no changes.
func (pc *PatchComputer) CreatePatch(kind models.Kind, desired *remote.Payload, current *remote.Entity) (PatchResult, error) {
	mappings := pc.Mappings[kind]
	if len(mappings) == 0 {
		return PatchResult{}, nil
	}

	if desired.ID != 0 && current.ID != 0 && desired.ID != current.ID {
		return PatchResult{}, &MismatchError{
			Sentinel: ErrIdentifierMismatch,
			Desired:  fmt.Sprintf("%d", desired.ID),
			Current:  fmt.Sprintf("%d", current.ID),
		}
	}
	if desired.Rev != "" && desired.Rev != current.Rev {
		return PatchResult{}, &MismatchError{
			Sentinel: ErrRevisionMismatch,
			Desired:  desired.Rev,
			Current:  current.Rev,
		}
	}

	patch := make(map[string]any)
	for i := range mappings {
		m := &mappings[i]
		value, ok := payloadValue(desired, m.RemoteField)
		if !ok {
			continue
		}
		switch m.Subtype {
		case config.SlotSingleArray:
			pc.patchSingleArray(patch, m, value, current)
		case config.SlotComplexArray:
			pc.patchComplexArray(patch, m, value, current)
		default:
			pc.patchScalar(patch, m, value, current)
		}
	}

	if len(patch) == 0 {
		return PatchResult{}, nil
	}
	// The revision rides along so the remote can reject a concurrent edit.
	patch["rev"] = current.Rev
	return PatchResult{HasChanges: true, Patch: patch}, nil
}

// patchScalar writes the value when the remote slot is empty, and replaces a
// differing value only when the mapping permits overwrite.
func (pc *PatchComputer) patchScalar(patch map[string]any, m *config.CompiledMapping, value any, current *remote.Entity) {
	cur, has := entityValue(current, m.RemoteField)
	if !has {
		patch[m.RemoteField] = value
		return
	}
	if m.Overwrite && toString(cur) != toString(value) {
		patch[m.RemoteField] = value
	}
}

// patchSingleArray appends the value to the backing array at most once: a
// note already present on the entity is never re-added.
func (pc *PatchComputer) patchSingleArray(patch map[string]any, m *config.CompiledMapping, value any, current *remote.Entity) {
	want := toString(value)
	stored := storedArrayName(m.RemoteField)
	for _, existing := range entitySingleArray(current, stored) {
		if existing == want {
			return
		}
	}
	patch[m.RemoteField] = want
}

// patchComplexArray unions desired references into the current array by the
// slot's sub-key. The patch carries the merged array only when it gained
// entries and the mapping permits overwrite; without overwrite the stored
// array is never touched.
func (pc *PatchComputer) patchComplexArray(patch map[string]any, m *config.CompiledMapping, value any, current *remote.Entity) {
	if !m.Overwrite {
		return
	}
	desired := refsFromValue(value)
	if len(desired) == 0 {
		return
	}
	cur := entityRefs(current, m.RemoteField)
	seen := make(map[int64]bool, len(cur))
	merged := append([]remote.Ref(nil), cur...)
	for _, r := range cur {
		seen[r.ID] = true
	}
	added := false
	for _, r := range desired {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		merged = append(merged, r)
		added = true
	}
	if added {
		patch[m.RemoteField] = merged
	}
}

// storedArrayName maps a single-value write slot to its backing array.
func storedArrayName(field string) string {
	if field == "note" {
		return "notes"
	}
	return field
}
