// ABOUTME: Tests for change classification
// ABOUTME: Covers echo suppression, prerequisites, segments and the insert/update split
package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/remote"
)

func newEnvelope(msg *models.ChangeMessage) *Envelope {
	return &Envelope{Message: msg, Current: make(map[models.Kind]*remote.Entity)}
}

func inSegmentMessage() *models.ChangeMessage {
	return &models.ChangeMessage{
		User:     models.Record{"id": "u1", "email": "jane@example.com"},
		Account:  models.Record{"domain": "example.com"},
		Segments: []models.Segment{{ID: "seg-1", Name: "Customers"}},
	}
}

func newClassifier() *Classifier {
	return &Classifier{SynchronizedSegments: []string{"seg-1"}}
}

func TestClassifyIsTotalPartition(t *testing.T) {
	linked := inSegmentMessage()
	linked.SetLinkage(models.KindContact, models.Linkage{ID: 7, Rev: "1"})
	envs := []*Envelope{
		newEnvelope(inSegmentMessage()),
		newEnvelope(&models.ChangeMessage{User: models.Record{"id": "u2"}}),
		newEnvelope(linked),
	}
	out := newClassifier().Classify(models.KindContact, envs, false)
	assert.Len(t, out.ToInsert, 1)
	assert.Len(t, out.ToSkip, 1)
	assert.Len(t, out.ToUpdate, 1)
	assert.Equal(t, len(envs), len(out.ToInsert)+len(out.ToUpdate)+len(out.ToSkip))
}

func TestClassifyEchoSuppression(t *testing.T) {
	msg := inSegmentMessage()
	msg.Changes = models.ChangeSet{User: map[string][]any{
		"contact/rev": {"1", "2"},
		"indexed_at":  {1.0, 2.0},
	}}
	out := newClassifier().Classify(models.KindContact, []*Envelope{newEnvelope(msg)}, false)
	require.Len(t, out.ToSkip, 1)
	assert.Equal(t, "changed by connector only", out.ToSkip[0].SkipReason)
}

func TestClassifyMixedChangesAreNotEcho(t *testing.T) {
	msg := inSegmentMessage()
	msg.Changes = models.ChangeSet{User: map[string][]any{
		"contact/rev": {"1", "2"},
		"email":       {nil, "jane@example.com"},
	}}
	out := newClassifier().Classify(models.KindContact, []*Envelope{newEnvelope(msg)}, false)
	assert.Empty(t, out.ToSkip)
}

func TestClassifyEmptyChangeSetFlows(t *testing.T) {
	// A full refresh has no change set at all; it must not be suppressed.
	out := newClassifier().Classify(models.KindContact, []*Envelope{newEnvelope(inSegmentMessage())}, false)
	assert.Len(t, out.ToInsert, 1)
}

func TestClassifySegmentFilter(t *testing.T) {
	msg := &models.ChangeMessage{
		User:     models.Record{"id": "u1", "email": "jane@example.com"},
		Segments: []models.Segment{{ID: "other"}},
	}
	out := newClassifier().Classify(models.KindContact, []*Envelope{newEnvelope(msg)}, false)
	require.Len(t, out.ToSkip, 1)
	assert.Equal(t, "not in synchronized segments", out.ToSkip[0].SkipReason)
}

func TestClassifyLinkedRecordOutsideSegmentsSkips(t *testing.T) {
	// The allow-list applies before the insert/update split: a record that
	// left the synchronized segments stops syncing even though it is linked.
	msg := &models.ChangeMessage{
		User:     models.Record{"id": "u1", "contact/id": float64(7), "contact/rev": "1"},
		Segments: []models.Segment{{ID: "other"}},
	}
	out := newClassifier().Classify(models.KindContact, []*Envelope{newEnvelope(msg)}, false)
	require.Len(t, out.ToSkip, 1)
	assert.Equal(t, "not in synchronized segments", out.ToSkip[0].SkipReason)
	assert.Empty(t, out.ToUpdate)
}

func TestClassifyBypassSuspendsSegmentFilter(t *testing.T) {
	unlinked := &models.ChangeMessage{
		User: models.Record{"id": "u1", "email": "jane@example.com"},
	}
	linked := &models.ChangeMessage{
		User: models.Record{"id": "u2", "contact/id": float64(7), "contact/rev": "1"},
	}
	out := newClassifier().Classify(models.KindContact,
		[]*Envelope{newEnvelope(unlinked), newEnvelope(linked)}, true)
	assert.Len(t, out.ToInsert, 1)
	assert.Len(t, out.ToUpdate, 1)
	assert.Empty(t, out.ToSkip)
}

func TestClassifyBypassDoesNotOverrideEcho(t *testing.T) {
	msg := inSegmentMessage()
	msg.Changes = models.ChangeSet{User: map[string][]any{"contact/rev": {"1", "2"}}}
	out := newClassifier().Classify(models.KindContact, []*Envelope{newEnvelope(msg)}, true)
	require.Len(t, out.ToSkip, 1)
	assert.Equal(t, "changed by connector only", out.ToSkip[0].SkipReason)
}

func TestClassifyLeadNeedsContactLinkage(t *testing.T) {
	out := newClassifier().Classify(models.KindLead, []*Envelope{newEnvelope(inSegmentMessage())}, false)
	require.Len(t, out.ToSkip, 1)
	assert.Equal(t, "contact not linked yet", out.ToSkip[0].SkipReason)

	linked := inSegmentMessage()
	linked.SetLinkage(models.KindContact, models.Linkage{ID: 7, Rev: "1"})
	out = newClassifier().Classify(models.KindLead, []*Envelope{newEnvelope(linked)}, false)
	assert.Len(t, out.ToInsert, 1)
}

func TestClassifyAccountNeedsAccountInformation(t *testing.T) {
	msg := &models.ChangeMessage{
		User:     models.Record{"id": "u1"},
		Segments: []models.Segment{{ID: "seg-1"}},
	}
	out := newClassifier().Classify(models.KindAccount, []*Envelope{newEnvelope(msg)}, false)
	require.Len(t, out.ToSkip, 1)
	assert.Equal(t, "no account information on message", out.ToSkip[0].SkipReason)
}

func TestClassifyDiscoveredEntityMakesUpdate(t *testing.T) {
	env := newEnvelope(inSegmentMessage())
	env.Current[models.KindContact] = &remote.Entity{ID: 7, Rev: "1"}
	out := newClassifier().Classify(models.KindContact, []*Envelope{env}, false)
	assert.Len(t, out.ToUpdate, 1)
}
