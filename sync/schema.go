// ABOUTME: Remote field slot tables
// ABOUTME: Routes mapped values into payload slots and reads them back off entities
package sync

import (
	"fmt"
	"strconv"

	"github.com/harperreed/crmsync/models"
	"github.com/harperreed/crmsync/remote"
)

// payloadSet routes one mapped value into its payload slot. Fields without a
// fixed slot are custom fields.
func payloadSet(p *remote.Payload, field string, value any) {
	switch field {
	case "name":
		p.Name = toString(value)
	case "description":
		p.Description = toString(value)
	case "email":
		p.Email = toString(value)
	case "phone":
		p.Phone = toString(value)
	case "url":
		p.URL = toString(value)
	case "note":
		p.Note = toString(value)
	case "confidence":
		p.Confidence = toFloat(value)
	case "sources":
		p.Sources = refsFromValue(value)
	case "competitors":
		p.Competitors = refsFromValue(value)
	case "products":
		p.Products = refsFromValue(value)
	default:
		if p.Custom == nil {
			p.Custom = make(map[string]any)
		}
		p.Custom[field] = value
	}
}

// payloadValue reads a slot back off a payload. The second result is false
// when the slot is empty.
func payloadValue(p *remote.Payload, field string) (any, bool) {
	switch field {
	case "name":
		return p.Name, p.Name != ""
	case "description":
		return p.Description, p.Description != ""
	case "email":
		return p.Email, p.Email != ""
	case "phone":
		return p.Phone, p.Phone != ""
	case "url":
		return p.URL, p.URL != ""
	case "note":
		return p.Note, p.Note != ""
	case "confidence":
		return p.Confidence, p.Confidence != 0
	case "sources":
		return p.Sources, len(p.Sources) > 0
	case "competitors":
		return p.Competitors, len(p.Competitors) > 0
	case "products":
		return p.Products, len(p.Products) > 0
	}
	v, ok := p.Custom[field]
	return v, ok && v != nil
}

// entityValue reads the current remote value of a scalar slot for patch
// comparison. Multi-value fields compare against their primary entry.
func entityValue(e *remote.Entity, field string) (any, bool) {
	switch field {
	case "name":
		return e.Name.Display, e.Name.Display != ""
	case "description":
		return e.Description, e.Description != ""
	case "email":
		v := e.Email.Primary()
		return v, v != ""
	case "phone":
		v := e.Phone.Primary()
		return v, v != ""
	case "url":
		v := e.URL.Primary()
		return v, v != ""
	case "confidence":
		if e.Confidence == nil {
			return nil, false
		}
		return *e.Confidence, true
	}
	v, ok := e.Custom[field]
	return v, ok && v != nil
}

// entitySingleArray returns the stored array entries backing a single-value
// write slot ("note" writes append to "notes").
func entitySingleArray(e *remote.Entity, stored string) []string {
	if stored != "notes" {
		return nil
	}
	out := make([]string, len(e.Notes))
	for i, n := range e.Notes {
		out[i] = n.Note
	}
	return out
}

// entityRefs returns the current reference array for a complex-array slot.
func entityRefs(e *remote.Entity, field string) []remote.Ref {
	switch field {
	case "sources":
		return e.Sources
	case "competitors":
		return e.Competitors
	case "products":
		return e.Products
	}
	return nil
}

// refsFromValue coerces a mapped value into a reference array. Accepted
// inputs are id scalars, arrays of id scalars and arrays of objects with an
// id member.
func refsFromValue(value any) []remote.Ref {
	switch t := value.(type) {
	case []remote.Ref:
		return t
	case []any:
		refs := make([]remote.Ref, 0, len(t))
		for _, item := range t {
			if r, ok := refFromValue(item); ok {
				refs = append(refs, r)
			}
		}
		return refs
	default:
		if r, ok := refFromValue(value); ok {
			return []remote.Ref{r}
		}
	}
	return nil
}

func refFromValue(value any) (remote.Ref, bool) {
	if m, ok := value.(map[string]any); ok {
		id, ok := models.CoerceID(m["id"])
		if !ok {
			return remote.Ref{}, false
		}
		name, _ := m["name"].(string)
		return remote.Ref{ID: id, Name: name}, true
	}
	if id, ok := models.CoerceID(value); ok {
		return remote.Ref{ID: id}, true
	}
	return remote.Ref{}, false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", v)
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}
