// ABOUTME: Webhook delivery types and payload classification
// ABOUTME: Parses remote push notifications into activity and entity-update payloads
package webhook

import (
	"strconv"
	"strings"

	"github.com/harperreed/crmsync/models"
)

// Delivery is one inbound webhook body: a set of changed-object payloads
// plus the system events that produced them.
type Delivery struct {
	Payloads []Payload     `json:"payloads"`
	Events   []SystemEvent `json:"events"`
}

// Payload describes one changed remote object. IDs arrive suffixed with the
// collection name ("123-activities", "456-contacts").
type Payload struct {
	Type  string              `json:"type"`
	ID    string              `json:"id"`
	Links map[string][]string `json:"links"`
}

// SystemEvent is one remote change event referenced by the delivery.
type SystemEvent struct {
	Action string `json:"action"`
	Links  struct {
		Payloads []string `json:"payloads"`
	} `json:"links"`
}

// PayloadClass is the routing decision for one payload.
type PayloadClass int

const (
	// Ignored payloads reference object types the connector does not import.
	Ignored PayloadClass = iota
	// Activity payloads become tracked events on linked platform records.
	Activity
	// EntityUpdate payloads refresh mirrored attributes for an entity.
	EntityUpdate
)

// entityCollections maps payload type names to entity kinds.
var entityCollections = map[string]models.Kind{
	"contacts": models.KindContact,
	"accounts": models.KindAccount,
	"leads":    models.KindLead,
}

// Classify routes a payload by its collection type.
func (p *Payload) Classify() PayloadClass {
	if p.Type == "activities" {
		return Activity
	}
	if _, ok := entityCollections[p.Type]; ok {
		return EntityUpdate
	}
	return Ignored
}

// Kind resolves the entity kind of an entity-update payload.
func (p *Payload) Kind() (models.Kind, bool) {
	k, ok := entityCollections[p.Type]
	return k, ok
}

// EntityID parses the numeric id out of a suffixed payload id.
func (p *Payload) EntityID() (int64, bool) {
	return parseSuffixedID(p.ID, p.Type)
}

// LinkedEntity returns the first entity the payload links to, preferring
// contacts over leads. Linked accounts are not returned: activities belong
// on person timelines.
func (p *Payload) LinkedEntity() (models.Kind, int64, bool) {
	for _, collection := range []string{"contacts", "leads"} {
		ids := p.Links[collection]
		if len(ids) == 0 {
			continue
		}
		if id, ok := parseSuffixedID(ids[0], collection); ok {
			return entityCollections[collection], id, true
		}
	}
	return "", 0, false
}

// LinkedAccountID returns the account the payload links to, if any.
func (p *Payload) LinkedAccountID() (int64, bool) {
	ids := p.Links["accounts"]
	if len(ids) == 0 {
		return 0, false
	}
	return parseSuffixedID(ids[0], "accounts")
}

// HasCreateEvent reports whether the delivery contains a create event
// referencing the payload. Activities are only tracked on creation;
// edits and deletes of past activities do not replay.
func (d *Delivery) HasCreateEvent(p *Payload) bool {
	for _, ev := range d.Events {
		if ev.Action != "create" {
			continue
		}
		for _, ref := range ev.Links.Payloads {
			if ref == p.ID {
				return true
			}
		}
	}
	return false
}

// parseSuffixedID strips the "-<collection>" suffix and parses the rest.
func parseSuffixedID(raw, collection string) (int64, bool) {
	s := strings.TrimSuffix(raw, "-"+collection)
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
