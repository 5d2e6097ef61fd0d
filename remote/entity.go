// ABOUTME: Typed read models for remote CRM entities
// ABOUTME: Decodes the JSON-RPC entity shape including labeled multi-value fields
package remote

import (
	"encoding/json"
	"time"
)

// timeLayout is the timestamp format the remote API emits
// ("2017-11-30T03:08:26+0000"); RFC3339 is accepted as a fallback.
const timeLayout = "2006-01-02T15:04:05-0700"

// ParseTime parses a remote timestamp. The zero time is returned for empty
// or malformed input.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

// PrimaryLabel marks the primary entry in a labeled multi-value field.
const PrimaryLabel = "--primary"

// LabeledValues is a multi-value field keyed by label ("1", "2", ...) with
// a duplicate entry under the primary label.
type LabeledValues map[string]string

// Primary returns the primary value, or "".
func (lv LabeledValues) Primary() string {
	return lv[PrimaryLabel]
}

// EntityName decodes the remote name field, which is a plain string for
// accounts and leads and a structured object for contacts.
type EntityName struct {
	Display    string
	Given      string
	Family     string
	Salutation string
}

func (n *EntityName) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		n.Display = s
		return nil
	}
	var obj struct {
		DisplayName string `json:"displayName"`
		GivenName   string `json:"givenName"`
		FamilyName  string `json:"familyName"`
		Salutation  string `json:"salutation"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	n.Display = obj.DisplayName
	n.Given = obj.GivenName
	n.Family = obj.FamilyName
	n.Salutation = obj.Salutation
	return nil
}

func (n EntityName) MarshalJSON() ([]byte, error) {
	if n.Given == "" && n.Family == "" {
		return json.Marshal(n.Display)
	}
	return json.Marshal(map[string]string{
		"displayName": n.Display,
		"givenName":   n.Given,
		"familyName":  n.Family,
		"salutation":  n.Salutation,
	})
}

// Ref is a keyed reference to another remote object. EntityType accompanies
// references that cross entity collections (owners, lead links).
type Ref struct {
	ID         int64  `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	EntityType string `json:"entityType,omitempty"`
}

// Money is an amount/currency pair on lead values.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Note is one entry of an entity's notes array.
type Note struct {
	ID          int64  `json:"id,omitempty"`
	Note        string `json:"note"`
	CreatedTime string `json:"createdTime,omitempty"`
}

// Entity is the authoritative remote state of an account, contact or lead.
// The remote API returns one overlapping shape for all three; fields that
// do not apply to a kind are simply absent.
type Entity struct {
	ID         int64      `json:"id"`
	EntityType string     `json:"entityType,omitempty"`
	Rev        string     `json:"rev"`
	Name       EntityName `json:"name,omitempty"`

	HTMLURL           string `json:"htmlUrl,omitempty"`
	Description       string `json:"description,omitempty"`
	CreatedTime       string `json:"createdTime,omitempty"`
	ModifiedTime      string `json:"modifiedTime,omitempty"`
	LastContactedDate string `json:"lastContactedDate,omitempty"`
	ContactedCount    int    `json:"contactedCount,omitempty"`

	Tags  []string      `json:"tags,omitempty"`
	Email LabeledValues `json:"email,omitempty"`
	URL   LabeledValues `json:"url,omitempty"`
	Phone LabeledValues `json:"phone,omitempty"`

	AccountType *Ref `json:"accountType,omitempty"`
	Industry    *Ref `json:"industry,omitempty"`
	Milestone   *Ref `json:"milestone,omitempty"`
	Market      *Ref `json:"market,omitempty"`

	Status     *float64 `json:"status,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Completion *float64 `json:"completion,omitempty"`
	Urgency    string   `json:"urgency,omitempty"`
	IsOverdue  bool     `json:"isOverdue,omitempty"`
	DueTime    string   `json:"dueTime,omitempty"`
	ClosedTime string   `json:"closedTime,omitempty"`

	EstimatedValue *Money `json:"estimatedValue,omitempty"`
	Value          *Money `json:"value,omitempty"`

	Notes       []Note `json:"notes,omitempty"`
	Sources     []Ref  `json:"sources,omitempty"`
	Competitors []Ref  `json:"competitors,omitempty"`
	Products    []Ref  `json:"products,omitempty"`

	// Contacts and Accounts are linked stubs on leads.
	Contacts []Entity `json:"contacts,omitempty"`
	Accounts []Entity `json:"accounts,omitempty"`

	Custom map[string]any `json:"customFields,omitempty"`
}

// Activity is one remote timeline entry.
type Activity struct {
	ID           int64  `json:"id"`
	Rev          string `json:"rev,omitempty"`
	ActivityType Ref    `json:"activityType"`
	LogNote      struct {
		Note string `json:"note"`
	} `json:"logNote"`
	IsAllDay    bool   `json:"isAllDay"`
	IsCancelled bool   `json:"isCancelled"`
	IsFlagged   bool   `json:"isFlagged"`
	StartTime   string `json:"startTime,omitempty"`
	EndTime     string `json:"endTime,omitempty"`
	LoggedBy    struct {
		Name   string   `json:"name"`
		Emails []string `json:"emails"`
	} `json:"loggedBy"`
	CreatedTime string `json:"createdTime,omitempty"`
}

// CreatedAt is the parsed creation time, the activity-cursor comparison key.
func (a *Activity) CreatedAt() time.Time {
	return ParseTime(a.CreatedTime)
}
