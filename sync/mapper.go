// ABOUTME: Bidirectional entity mapping
// ABOUTME: Builds remote payloads from change messages and platform attributes from remote state
package sync

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/harperreed/crmsync/config"
	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/platform"
	"github.com/harperreed/crmsync/remote"
)

// aliasPrefix namespaces the connector's stable identity claim on platform
// records ("crm:1234").
const aliasPrefix = "crm:"

// Mapper converts between platform change messages and remote entities in
// both directions, driven by the compiled outbound mappings.
type Mapper struct {
	Mappings map[models.Kind][]config.CompiledMapping
}

// ToRemote builds the desired remote payload for a kind from a change
// message: the stored linkage first, then every configured mapping, then the
// structural links a lead needs.
func (mp *Mapper) ToRemote(kind models.Kind, msg *models.ChangeMessage) *remote.Payload {
	p := &remote.Payload{}
	if l, ok := msg.Linkage(kind); ok {
		p.ID = l.ID
		p.Rev = l.Rev
	}

	for i := range mp.Mappings[kind] {
		m := &mp.Mappings[kind][i]
		if value, ok := m.Value(msg); ok {
			payloadSet(p, m.RemoteField, value)
		}
	}

	if kind == models.KindLead {
		if cl, ok := msg.Linkage(models.KindContact); ok {
			p.Contacts = []remote.Ref{{ID: cl.ID, EntityType: "Contacts"}}
		}
		if al, ok := msg.Linkage(models.KindAccount); ok {
			p.Accounts = []remote.Ref{{ID: al.ID, EntityType: "Accounts"}}
		}
	}
	// Owner references cross collections and must carry the type tag.
	if p.Owner != nil && p.Owner.EntityType == "" {
		p.Owner.EntityType = "Users"
	}
	return p
}

// ToPlatform maps a remote entity to the platform attributes that mirror it.
// Connector-owned attributes live under the kind's namespace and always
// overwrite; shared top-level attributes (first_name, domain, name, email)
// only fill empty slots so user-entered data is never clobbered.
func (mp *Mapper) ToPlatform(kind models.Kind, e *remote.Entity) platform.AttributeMap {
	ns := kind.Namespace()
	attrs := platform.AttributeMap{}
	attrs.Set(ns+"/id", e.ID)
	attrs.Set(ns+"/rev", e.Rev)
	if e.ModifiedTime != "" {
		attrs.Set(ns+"/updated_at", e.ModifiedTime)
	}
	if e.CreatedTime != "" {
		attrs.SetIfEmpty(ns+"/created_at", e.CreatedTime)
	}
	if e.HTMLURL != "" {
		attrs.Set(ns+"/link", e.HTMLURL)
	}
	if e.LastContactedDate != "" {
		attrs.Set(ns+"/last_contacted_at", e.LastContactedDate)
	}

	switch kind {
	case models.KindContact:
		mp.contactAttributes(attrs, e)
	case models.KindAccount:
		mp.accountAttributes(attrs, e)
	case models.KindLead:
		mp.leadAttributes(attrs, e)
	}
	return attrs
}

func (mp *Mapper) contactAttributes(attrs platform.AttributeMap, e *remote.Entity) {
	ns := models.KindContact.Namespace()
	if e.Name.Given != "" {
		attrs.SetIfEmpty("first_name", e.Name.Given)
		attrs.Set(ns+"/first_name", e.Name.Given)
	}
	if e.Name.Family != "" {
		attrs.SetIfEmpty("last_name", e.Name.Family)
		attrs.Set(ns+"/last_name", e.Name.Family)
	}
	if e.ContactedCount != 0 {
		attrs.Set(ns+"/contacted_count", e.ContactedCount)
	}
	if len(e.Tags) > 0 {
		attrs.Set(ns+"/tags", e.Tags)
	}
	if e.Description != "" {
		attrs.Set(ns+"/description", e.Description)
	}
	for label, v := range e.Email {
		if label == remote.PrimaryLabel {
			attrs.SetIfEmpty("email", v)
		} else {
			attrs.Set(ns+"/email"+label, v)
		}
	}
}

func (mp *Mapper) accountAttributes(attrs platform.AttributeMap, e *remote.Entity) {
	ns := models.KindAccount.Namespace()
	if e.Name.Display != "" {
		attrs.SetIfEmpty("name", e.Name.Display)
		attrs.Set(ns+"/name", e.Name.Display)
	}
	if e.AccountType != nil {
		attrs.Set(ns+"/accounttype_id", e.AccountType.ID)
		if e.AccountType.Name != "" {
			attrs.Set(ns+"/accounttype_name", e.AccountType.Name)
		}
	}
	if e.Industry != nil {
		attrs.Set(ns+"/industry_id", e.Industry.ID)
		if e.Industry.Name != "" {
			attrs.Set(ns+"/industry_name", e.Industry.Name)
		}
	}
	if len(e.Tags) > 0 {
		attrs.Set(ns+"/tags", e.Tags)
	}
	if e.Description != "" {
		attrs.Set(ns+"/description", e.Description)
	}
	for label, v := range e.URL {
		if label == remote.PrimaryLabel {
			if host := NormalizeHost(v); host != "" {
				attrs.SetIfEmpty("domain", host)
			}
		} else {
			attrs.Set(ns+"/url"+label, v)
		}
	}
}

func (mp *Mapper) leadAttributes(attrs platform.AttributeMap, e *remote.Entity) {
	ns := models.KindLead.Namespace()
	if e.Name.Display != "" {
		attrs.SetIfEmpty("name", e.Name.Display)
		attrs.Set(ns+"/name", e.Name.Display)
	}
	if e.Milestone != nil {
		attrs.Set(ns+"/milestone_id", e.Milestone.ID)
		if e.Milestone.Name != "" {
			attrs.Set(ns+"/milestone_name", e.Milestone.Name)
		}
	}
	if e.Market != nil {
		attrs.Set(ns+"/market_id", e.Market.ID)
		if e.Market.Name != "" {
			attrs.Set(ns+"/market_name", e.Market.Name)
		}
	}
	if e.DueTime != "" {
		attrs.Set(ns+"/due_at", e.DueTime)
	}
	if e.ClosedTime != "" {
		attrs.Set(ns+"/closed_at", e.ClosedTime)
	}
	if e.EstimatedValue != nil {
		attrs.Set(ns+"/estimated_value_amount", e.EstimatedValue.Amount)
		attrs.Set(ns+"/estimated_value_currency", e.EstimatedValue.Currency)
	}
	if e.Value != nil {
		attrs.Set(ns+"/value_amount", e.Value.Amount)
		attrs.Set(ns+"/value_currency", e.Value.Currency)
	}
	if e.Description != "" {
		attrs.Set(ns+"/description", e.Description)
	}
	if e.Status != nil {
		attrs.Set(ns+"/status", *e.Status)
	}
	if e.Confidence != nil {
		attrs.Set(ns+"/confidence", *e.Confidence)
	}
	if e.Completion != nil {
		attrs.Set(ns+"/completion", *e.Completion)
	}
	if e.Urgency != "" {
		attrs.Set(ns+"/urgency", e.Urgency)
	}
	if e.IsOverdue {
		attrs.Set(ns+"/is_overdue", e.IsOverdue)
	}
}

// Alias returns the connector's stable identity claim for a remote entity.
func Alias(id int64) string {
	return aliasPrefix + strconv.FormatInt(id, 10)
}

// Identities returns the platform identities a remote entity's state should
// be written to. Accounts and contacts address one record; a lead has no
// record of its own, so it fans out to every linked contact, each write
// carrying the lead's alias so the records stay traceable to it.
func (mp *Mapper) Identities(kind models.Kind, e *remote.Entity) []platform.Identity {
	switch kind {
	case models.KindContact:
		return []platform.Identity{{
			Email: e.Email.Primary(),
			Alias: Alias(e.ID),
		}}
	case models.KindAccount:
		return []platform.Identity{{
			Domain: NormalizeHost(e.URL.Primary()),
		}}
	case models.KindLead:
		idents := make([]platform.Identity, 0, len(e.Contacts))
		for i := range e.Contacts {
			email := e.Contacts[i].Email.Primary()
			if email == "" {
				continue
			}
			idents = append(idents, platform.Identity{
				Email: email,
				Alias: Alias(e.ID),
			})
		}
		return idents
	}
	return nil
}

// NormalizeHost reduces a url to its hostname for use as an account domain.
// Input that does not parse to a host is returned unchanged.
func NormalizeHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		// Bare domains without a scheme do not parse to a host.
		if !strings.Contains(raw, "://") {
			if u2, err2 := url.Parse("https://" + raw); err2 == nil && u2.Hostname() != "" {
				return u2.Hostname()
			}
		}
		return raw
	}
	return u.Hostname()
}
