// ABOUTME: Outbound payload type for remote create and edit calls
// ABOUTME: Fixed typed slots plus a custom-field overflow map merged at marshal time
package remote

import "encoding/json"

// Payload is the desired remote state built from a platform record. Known
// fields occupy fixed slots resolved at configuration load; everything else
// lands in Custom and is flattened into the JSON object on marshal.
type Payload struct {
	ID  int64  `json:"id,omitempty"`
	Rev string `json:"rev,omitempty"`

	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	URL         string  `json:"url,omitempty"`
	Note        string  `json:"note,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`

	// Contacts and Accounts carry single-element reference arrays linking a
	// lead to its contact and account.
	Contacts []Ref `json:"contacts,omitempty"`
	Accounts []Ref `json:"accounts,omitempty"`
	// Owner references cross entity collections, so it carries an
	// entity-type tag alongside the id.
	Owner *Ref `json:"owner,omitempty"`

	Sources     []Ref `json:"sources,omitempty"`
	Competitors []Ref `json:"competitors,omitempty"`
	Products    []Ref `json:"products,omitempty"`

	Custom map[string]any `json:"-"`
}

func (p Payload) MarshalJSON() ([]byte, error) {
	type alias Payload
	data, err := json.Marshal(alias(p))
	if err != nil {
		return nil, err
	}
	if len(p.Custom) == 0 {
		return data, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for k, v := range p.Custom {
		if _, taken := obj[k]; !taken {
			obj[k] = v
		}
	}
	return json.Marshal(obj)
}
