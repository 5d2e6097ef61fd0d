// ABOUTME: Per-message sync envelope
// ABOUTME: Carries a change message plus discovered remote state through the pipeline
package sync

import (
	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/remote"
)

// Envelope wraps one change message for processing. Discovery attaches the
// current remote entity per kind; classification attaches a skip reason when
// the message is filtered out.
type Envelope struct {
	Message *models.ChangeMessage

	// Current holds the freshest known remote state per kind, populated by
	// discovery and by successful writes.
	Current map[models.Kind]*remote.Entity

	// SkipReason explains why the envelope was skipped, for operators.
	SkipReason string
}

// WrapMessages builds envelopes for a deduplicated batch.
func WrapMessages(messages []*models.ChangeMessage) []*Envelope {
	envs := make([]*Envelope, len(messages))
	for i, msg := range messages {
		envs[i] = &Envelope{
			Message: msg,
			Current: make(map[models.Kind]*remote.Entity),
		}
	}
	return envs
}

// SetCurrent records fresh remote state for a kind and mirrors the linkage
// onto the message so later phases and later kinds observe it.
func (e *Envelope) SetCurrent(kind models.Kind, entity *remote.Entity) {
	e.Current[kind] = entity
	e.Message.SetLinkage(kind, models.Linkage{ID: entity.ID, Rev: entity.Rev})
}
