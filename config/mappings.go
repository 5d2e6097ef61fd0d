// ABOUTME: Outbound field mapping compilation
// ABOUTME: Resolves mapping sources, templates and remote field subtypes at load time
package config

import (
	"fmt"
	"strings"

	"github.com/harperreed/crmsync/models"
)

// FieldMapping configures one outbound platform-to-remote field binding.
// Either PlatformField or Template must be set.
type FieldMapping struct {
	// PlatformField is a path on the change message ("email",
	// "account.domain", "traits/title").
	PlatformField string `json:"platform_field,omitempty"`
	// Template interpolates message fields into a string, e.g.
	// "{{user.name}} <{{user.email}}>". Missing fields render as Default.
	Template string `json:"template,omitempty"`
	// Default is the fallback text substituted for missing template fields.
	Default string `json:"default,omitempty"`
	// RemoteField names the target field on the remote entity.
	RemoteField string `json:"remote_field"`
	// Overwrite permits replacing a value the remote already has.
	Overwrite bool `json:"overwrite"`
}

// Subtype describes how a remote field behaves when patched.
type Subtype int

const (
	// SlotScalar is a plain value: written when absent, replaced only when
	// the mapping allows overwrite.
	SlotScalar Subtype = iota
	// SlotSingleArray is sent as a single value but stored remotely as an
	// array (notes); it is appended at most once.
	SlotSingleArray
	// SlotComplexArray is a list of keyed references merged by union.
	SlotComplexArray
)

// singleArraySlots maps write-parameter names to the entity array that
// stores them, for every kind.
var singleArraySlots = map[string]string{
	"note": "notes",
}

// complexArraySlots lists reference-array fields merged by sub-key, per kind.
var complexArraySlots = map[models.Kind]map[string]string{
	models.KindLead: {
		"sources":     "id",
		"competitors": "id",
		"products":    "id",
	},
}

// CompiledMapping is a FieldMapping with its source resolved to a lookup
// function and its remote field resolved to a patch subtype. Compilation
// happens once at configuration load, not per message.
type CompiledMapping struct {
	RemoteField string
	Subtype     Subtype
	// UnionKey is the sub-key complex arrays merge on ("id").
	UnionKey  string
	Overwrite bool

	field    string
	template *Template
}

// Value resolves the mapping's source against a change message.
func (cm *CompiledMapping) Value(msg *models.ChangeMessage) (any, bool) {
	if cm.template != nil {
		out := cm.template.Render(msg)
		return out, out != ""
	}
	v, ok := msg.Lookup(cm.field)
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// CompileMappings resolves the configured mappings for one kind.
func CompileMappings(kind models.Kind, mappings []FieldMapping) ([]CompiledMapping, error) {
	compiled := make([]CompiledMapping, 0, len(mappings))
	for i, m := range mappings {
		if m.RemoteField == "" {
			return nil, fmt.Errorf("%s mapping %d: remote field is required", kind, i)
		}
		cm := CompiledMapping{
			RemoteField: m.RemoteField,
			Overwrite:   m.Overwrite,
		}
		switch {
		case m.Template != "":
			cm.template = CompileTemplate(m.Template, m.Default)
		case m.PlatformField != "":
			cm.field = m.PlatformField
		default:
			return nil, fmt.Errorf("%s mapping %d (%s): platform field or template is required", kind, i, m.RemoteField)
		}
		if _, ok := singleArraySlots[m.RemoteField]; ok {
			cm.Subtype = SlotSingleArray
		} else if key, ok := complexArraySlots[kind][m.RemoteField]; ok {
			cm.Subtype = SlotComplexArray
			cm.UnionKey = key
		}
		compiled = append(compiled, cm)
	}
	return compiled, nil
}

// Compile resolves all per-kind mappings from the settings.
func Compile(s *Settings) (map[models.Kind][]CompiledMapping, error) {
	out := make(map[models.Kind][]CompiledMapping, len(models.Kinds()))
	for _, kind := range models.Kinds() {
		compiled, err := CompileMappings(kind, s.MappingsFor(kind))
		if err != nil {
			return nil, err
		}
		out[kind] = compiled
	}
	return out, nil
}

// Template is a compiled interpolation template. Parsing happens once;
// rendering is a walk over literal and field parts.
type Template struct {
	parts    []templatePart
	fallback string
}

type templatePart struct {
	literal string
	field   string
}

// CompileTemplate parses "{{path}}" references out of src. Unterminated
// references are treated as literal text.
func CompileTemplate(src, fallback string) *Template {
	t := &Template{fallback: fallback}
	for len(src) > 0 {
		open := strings.Index(src, "{{")
		if open < 0 {
			t.parts = append(t.parts, templatePart{literal: src})
			break
		}
		closing := strings.Index(src[open:], "}}")
		if closing < 0 {
			t.parts = append(t.parts, templatePart{literal: src})
			break
		}
		if open > 0 {
			t.parts = append(t.parts, templatePart{literal: src[:open]})
		}
		field := strings.TrimSpace(src[open+2 : open+closing])
		t.parts = append(t.parts, templatePart{field: field})
		src = src[open+closing+2:]
	}
	return t
}

// Render expands the template against a change message. Fields that are
// absent on the message render as the per-field fallback text.
func (t *Template) Render(msg *models.ChangeMessage) string {
	var b strings.Builder
	for _, p := range t.parts {
		if p.field == "" {
			b.WriteString(p.literal)
			continue
		}
		if v, ok := msg.Lookup(p.field); ok {
			b.WriteString(stringify(v))
		} else {
			b.WriteString(t.fallback)
		}
	}
	return b.String()
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
