// ABOUTME: Platform (CDP) write boundary
// ABOUTME: Defines identities, attribute write operations and tracked events
package platform

import (
	"context"
	"time"
)

// Operation selects the write semantics for one attribute.
type Operation string

const (
	// Overwrite replaces the stored value unconditionally.
	Overwrite Operation = "overwrite"
	// SetIfEmpty writes only when the record has no value yet.
	SetIfEmpty Operation = "setIfEmpty"
)

// Attribute is one value plus the operation that applies it.
type Attribute struct {
	Value     any
	Operation Operation
}

// AttributeMap is a batch of attribute writes keyed by attribute name.
type AttributeMap map[string]Attribute

// Set adds an unconditional write.
func (m AttributeMap) Set(name string, value any) {
	m[name] = Attribute{Value: value, Operation: Overwrite}
}

// SetIfEmpty adds a write that preserves any existing value.
func (m AttributeMap) SetIfEmpty(name string, value any) {
	m[name] = Attribute{Value: value, Operation: SetIfEmpty}
}

// Identity addresses a platform record. Any non-empty claim resolves; Email
// addresses people, Domain addresses accounts, Alias is the connector's own
// stable claim. Account scopes a person write to a linked account.
type Identity struct {
	Email  string
	Domain string
	Alias  string

	Account *Identity
}

// IsZero reports whether the identity carries no claims at all.
func (id Identity) IsZero() bool {
	return id.Email == "" && id.Domain == "" && id.Alias == "" && id.Account == nil
}

// Event is one tracked timeline event.
type Event struct {
	// Name is the event name shown on the platform timeline.
	Name string
	// Params are the event's properties.
	Params map[string]any
	// Context carries dedup and source metadata (event_id, ip, created_at).
	Context map[string]any
}

// Client writes attributes and events back to the platform.
type Client interface {
	// WriteAttributes applies an attribute batch to the record addressed by
	// the identity.
	WriteAttributes(ctx context.Context, ident Identity, attrs AttributeMap) error
	// RecordEvent appends a tracked event to the record's timeline.
	RecordEvent(ctx context.Context, ident Identity, ev Event) error
	// LatestEventTime returns the creation time of the newest event from the
	// given source on the record's timeline, or the zero time when none
	// exists. This is the replay watermark for remote timeline import.
	LatestEventTime(ctx context.Context, ident Identity, source string) (time.Time, error)
}
