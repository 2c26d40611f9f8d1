// Package records turns the loosely shaped records returned by the data
// service into validated core transactions.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Raw mirrors one element of the "records" array returned by the data
// service. Fields stay close to the wire; Normalizer does the interpretation.
type Raw struct {
	ID        FlexString `json:"id"`
	Title     string     `json:"title"`
	Amount    FlexString `json:"amount"`
	Type      Descriptor `json:"type"`
	Category  Descriptor `json:"category"`
	CreatedAt string     `json:"created_at"`
	Note      string     `json:"note,omitempty"`
}

// Descriptor is a labelled value the service sends either as a bare string
// or as an object such as {"value": "expense", "label": "Expense"}.
type Descriptor struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// Text returns the value, falling back to the label.
func (d Descriptor) Text() string {
	if v := strings.TrimSpace(d.Value); v != "" {
		return v
	}
	return strings.TrimSpace(d.Label)
}

func (d *Descriptor) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*d = Descriptor{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Descriptor{Value: s}
		return nil
	}
	var obj struct {
		Value any    `json:"value"`
		Label string `json:"label"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("descriptor: %w", err)
	}
	d.Label = obj.Label
	switch v := obj.Value.(type) {
	case nil:
		d.Value = ""
	case string:
		d.Value = v
	default:
		d.Value = fmt.Sprint(v)
	}
	return nil
}

// FlexString accepts a JSON string or number and keeps its textual form.
// Numbers are kept exactly as written so large ids and amounts lose nothing.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("expected string or number, got %s", b)
		}
		*f = FlexString(n.String())
	}
	return nil
}

func (f FlexString) String() string {
	return string(f)
}
