package criteria

import (
	"fmt"

	"github.com/trialforge-ai/platform/pkg/schema"
)

// Value is a typed patient attribute value.
type Value struct {
	Kind   schema.AttributeType `json:"kind"`
	Number float64              `json:"number,omitempty"`
	Text   string               `json:"text,omitempty"`
	Flag   bool                 `json:"flag,omitempty"`
}

func NumberValue(v float64) Value { return Value{Kind: schema.Numeric, Number: v} }
func TextValue(v string) Value    { return Value{Kind: schema.Categorical, Text: v} }
func FlagValue(v bool) Value      { return Value{Kind: schema.Boolean, Flag: v} }

func (v Value) String() string {
	switch v.Kind {
	case schema.Numeric:
		return fmt.Sprintf("%v", v.Number)
	case schema.Boolean:
		return fmt.Sprintf("%v", v.Flag)
	default:
		return v.Text
	}
}

// Patient is a flat record of typed attributes. Patients are never mutated
// after creation; simulated visit states produce new records instead.
type Patient struct {
	ID         string           `json:"patient_id"`
	Attributes map[string]Value `json:"attributes"`
}

func (p Patient) Attribute(name string) (Value, bool) {
	value, ok := p.Attributes[name]
	return value, ok
}

// Clone returns a copy with one attribute replaced, leaving the receiver
// untouched.
func (p Patient) Clone(name string, value Value) Patient {
	attrs := make(map[string]Value, len(p.Attributes))
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	attrs[name] = value
	return Patient{ID: p.ID, Attributes: attrs}
}
