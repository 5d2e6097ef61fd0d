// ABOUTME: Data model for CRM sync change processing
// ABOUTME: Defines entity kinds, change messages, segments and connector namespaces
package models

import (
	"strconv"
	"strings"
	"time"
)

// Kind is the closed set of entity types the connector synchronizes.
type Kind string

const (
	KindAccount Kind = "Account"
	KindContact Kind = "Contact"
	KindLead    Kind = "Lead"
)

// Kinds returns all kinds in sync order. Leads need a resolved contact
// linkage, so Lead always runs last.
func Kinds() []Kind {
	return []Kind{KindAccount, KindContact, KindLead}
}

// ParseKind resolves a kind from its name.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindAccount, KindContact, KindLead:
		return Kind(s), true
	}
	return "", false
}

// Namespace returns the connector attribute namespace for the kind.
// Each kind gets its own prefix so account, contact and lead linkage
// attributes never collide on the same platform record.
func (k Kind) Namespace() string {
	return strings.ToLower(string(k))
}

// LinkageIDField is the platform attribute holding the remote identifier.
func (k Kind) LinkageIDField() string {
	return k.Namespace() + "/id"
}

// LinkageRevField is the platform attribute holding the remote revision.
func (k Kind) LinkageRevField() string {
	return k.Namespace() + "/rev"
}

// IgnoredSystemField is touched by the platform on every write and never
// counts as a user-visible change.
const IgnoredSystemField = "indexed_at"

// IsConnectorField reports whether an attribute name lives inside one of the
// connector's own namespaces. Used for echo suppression: a change set that
// only touches connector fields was caused by our own write-back.
func IsConnectorField(name string) bool {
	for _, k := range Kinds() {
		if strings.HasPrefix(name, k.Namespace()+"/") {
			return true
		}
	}
	return false
}

// Record is a loosely-typed platform record. The platform schema is
// user-defined, so attributes stay dynamic on this side of the mapping.
type Record map[string]any

// Get resolves a dotted path against the record, descending into nested
// records. Attribute names themselves may contain slashes ("contact/id").
func (r Record) Get(path string) (any, bool) {
	if r == nil {
		return nil, false
	}
	cur := any(r)
	for _, seg := range strings.Split(path, ".") {
		m, ok := toRecord(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

// GetString resolves a dotted path and returns its string form, or "".
func (r Record) GetString(path string) string {
	v, ok := r.Get(path)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func toRecord(v any) (Record, bool) {
	switch t := v.(type) {
	case Record:
		return t, true
	case map[string]any:
		return Record(t), true
	}
	return nil, false
}

// CoerceID normalizes the id representations seen in JSON payloads
// (numbers, numeric strings) into an int64 remote identifier.
func CoerceID(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Segment is a platform audience segment membership.
type Segment struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ChangeSet lists the attributes that changed on the user and its account,
// keyed by attribute name with [old, new] values.
type ChangeSet struct {
	User    map[string][]any `json:"user,omitempty"`
	Account map[string][]any `json:"account,omitempty"`
}

// Fields returns every changed attribute name across user and account.
func (c ChangeSet) Fields() []string {
	fields := make([]string, 0, len(c.User)+len(c.Account))
	for f := range c.User {
		fields = append(fields, f)
	}
	for f := range c.Account {
		fields = append(fields, f)
	}
	return fields
}

// ChangeMessage is one inbound change notification from the platform.
type ChangeMessage struct {
	User     Record    `json:"user"`
	Account  Record    `json:"account"`
	Segments []Segment `json:"segments"`
	Changes  ChangeSet `json:"changes"`
}

// BusinessKey is the stable platform identifier used for deduplication.
func (m *ChangeMessage) BusinessKey() string {
	return m.User.GetString("id")
}

// Index is the monotonic arrival sequence of the message. Later indexes
// supersede earlier ones for the same business key.
func (m *ChangeMessage) Index() float64 {
	v, ok := m.User.Get(IgnoredSystemField)
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		if n, err := strconv.ParseFloat(t, 64); err == nil {
			return n
		}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return float64(ts.UnixNano())
		}
	}
	return 0
}

// RecordFor returns the record that carries linkage for the kind: the
// nested account record for accounts, the user record otherwise.
func (m *ChangeMessage) RecordFor(kind Kind) Record {
	if kind == KindAccount {
		return m.Account
	}
	return m.User
}

// Linkage is the stored (id, revision) pair tying a platform record to its
// remote entity. The pair always originates from a single remote read or
// write, never from two different responses.
type Linkage struct {
	ID  int64
	Rev string
}

// Linkage reads the remote linkage for the kind off the message.
func (m *ChangeMessage) Linkage(kind Kind) (Linkage, bool) {
	rec := m.RecordFor(kind)
	raw, ok := rec.Get(kind.LinkageIDField())
	if !ok {
		return Linkage{}, false
	}
	id, ok := CoerceID(raw)
	if !ok || id == 0 {
		return Linkage{}, false
	}
	return Linkage{ID: id, Rev: rec.GetString(kind.LinkageRevField())}, true
}

// SetLinkage writes a remote linkage onto the message so later phases (and
// later kinds) observe the resolved id and revision.
func (m *ChangeMessage) SetLinkage(kind Kind, l Linkage) {
	rec := m.RecordFor(kind)
	if rec == nil {
		return
	}
	rec[kind.LinkageIDField()] = l.ID
	rec[kind.LinkageRevField()] = l.Rev
}

// Lookup resolves a mapping source path against the message. Paths may be
// prefixed with "user." or "account."; unprefixed paths read the user.
func (m *ChangeMessage) Lookup(path string) (any, bool) {
	if rest, ok := strings.CutPrefix(path, "account."); ok {
		return m.Account.Get(rest)
	}
	if rest, ok := strings.CutPrefix(path, "user."); ok {
		return m.User.Get(rest)
	}
	return m.User.Get(path)
}

// SegmentIDs returns the ids of the message's segment memberships.
func (m *ChangeMessage) SegmentIDs() []string {
	ids := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		ids[i] = s.ID
	}
	return ids
}
