package domain

import (
	"fmt"
	"strings"
)

// Header fields are carried as typed values on every Entry rather than in Entry.Values
const (
	FieldPatientID      = "patient_id"
	FieldPatientName    = "patient_name"
	FieldSubmissionDate = "submission_date"
)

// IsHeaderField reports whether a field lives on the Entry header
func IsHeaderField(name string) bool {
	return name == FieldPatientID || name == FieldPatientName || name == FieldSubmissionDate
}

// Descriptor declares one condition kind: its extension fields, whether unknown keys
// are rejected, and the overlay rules evaluated after the baseline urgency rules
type Descriptor struct {
	Type   ConditionType `json:"condition_type"`
	Label  string        `json:"label"`
	Fields []FieldSpec   `json:"fields"`
	Strict bool          `json:"strict"`
	Rules  []Rule        `json:"-"`

	index map[string]FieldSpec
}

// Table returns the name of the table holding entries of this kind
func (d *Descriptor) Table() string {
	return string(d.Type) + "_entries"
}

// Field looks up an extension field by name
func (d *Descriptor) Field(name string) (FieldSpec, bool) {
	f, ok := d.index[name]
	return f, ok
}

// Registry is the single source of truth for condition kinds. It is built once at
// startup and never mutated afterwards, so it is safe for concurrent use.
type Registry struct {
	common      []FieldSpec
	commonIndex map[string]FieldSpec
	order       []ConditionType
	byType      map[ConditionType]*Descriptor
}

// NewRegistry builds a registry from the common field contract and one descriptor
// per condition kind
func NewRegistry(common []FieldSpec, descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		common:      append([]FieldSpec(nil), common...),
		commonIndex: make(map[string]FieldSpec, len(common)),
		byType:      make(map[ConditionType]*Descriptor, len(descriptors)),
	}

	for _, f := range common {
		if err := checkFieldSpec(f); err != nil {
			return nil, err
		}
		if _, dup := r.commonIndex[f.Name]; dup {
			return nil, fmt.Errorf("duplicate common field %q", f.Name)
		}
		r.commonIndex[f.Name] = f
	}
	for _, name := range []string{FieldPatientID, FieldPatientName, FieldSubmissionDate} {
		if _, ok := r.commonIndex[name]; !ok {
			return nil, fmt.Errorf("common fields must declare %q", name)
		}
	}

	for i := range descriptors {
		d := descriptors[i]
		if d.Type == "" {
			return nil, fmt.Errorf("descriptor %d has no condition type", i)
		}
		if _, dup := r.byType[d.Type]; dup {
			return nil, fmt.Errorf("duplicate descriptor for condition %q", d.Type)
		}

		d.Fields = append([]FieldSpec(nil), d.Fields...)
		d.Rules = append([]Rule(nil), d.Rules...)
		d.index = make(map[string]FieldSpec, len(d.Fields))
		for _, f := range d.Fields {
			if err := checkFieldSpec(f); err != nil {
				return nil, fmt.Errorf("condition %q: %w", d.Type, err)
			}
			if _, clash := r.commonIndex[f.Name]; clash {
				return nil, fmt.Errorf("condition %q: field %q shadows a common field", d.Type, f.Name)
			}
			if _, dup := d.index[f.Name]; dup {
				return nil, fmt.Errorf("condition %q: duplicate field %q", d.Type, f.Name)
			}
			d.index[f.Name] = f
		}
		for _, rule := range d.Rules {
			if rule.ID == "" || rule.Match == nil || !IsValidUrgency(rule.Severity) {
				return nil, fmt.Errorf("condition %q: malformed rule %q", d.Type, rule.ID)
			}
		}

		r.byType[d.Type] = &d
		r.order = append(r.order, d.Type)
	}

	return r, nil
}

func checkFieldSpec(f FieldSpec) error {
	if f.Name == "" {
		return fmt.Errorf("field with empty name")
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("field %q: min %v above max %v", f.Name, *f.Min, *f.Max)
	}
	if f.Kind == KindEnum && len(f.Values) == 0 {
		return fmt.Errorf("field %q: enum without values", f.Name)
	}
	return nil
}

// Lookup resolves a condition tag (case-insensitive, legacy aliases accepted)
func (r *Registry) Lookup(tag string) (*Descriptor, error) {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	if alias, ok := legacyConditionAliases[normalized]; ok {
		normalized = string(alias)
	}
	d, ok := r.byType[ConditionType(normalized)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCondition, tag)
	}
	return d, nil
}

// Conditions returns every registered condition in registration order
func (r *Registry) Conditions() []ConditionType {
	return append([]ConditionType(nil), r.order...)
}

// Descriptors returns every registered descriptor in registration order
func (r *Registry) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, ct := range r.order {
		out = append(out, r.byType[ct])
	}
	return out
}

// Common returns the common vitals contract shared by every condition
func (r *Registry) Common() []FieldSpec {
	return append([]FieldSpec(nil), r.common...)
}

// Fields returns the full ordered field list of a condition: common fields first,
// then the condition's extension fields
func (r *Registry) Fields(d *Descriptor) []FieldSpec {
	out := make([]FieldSpec, 0, len(r.common)+len(d.Fields))
	out = append(out, r.common...)
	return append(out, d.Fields...)
}

// FieldSpec looks up a common or extension field of a condition
func (r *Registry) FieldSpec(d *Descriptor, name string) (FieldSpec, bool) {
	if f, ok := r.commonIndex[name]; ok {
		return f, true
	}
	return d.Field(name)
}
