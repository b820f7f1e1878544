package domain

// FieldKind describes how a submitted value is parsed, validated and stored
type FieldKind string

const (
	KindInteger     FieldKind = "integer"      // Whole number
	KindDecimal     FieldKind = "decimal"      // Floating point number
	KindNumericText FieldKind = "numeric_text" // Whole number kept as text for display (blood pressure)
	KindText        FieldKind = "text"         // Free text with a length cap
	KindEnum        FieldKind = "enum"         // One of a closed set of strings
	KindBool        FieldKind = "bool"
	KindDate        FieldKind = "date"        // ISO YYYY-MM-DD calendar date
	KindMedications FieldKind = "medications" // name -> {taken, dose, time}
	KindSymptoms    FieldKind = "symptoms"    // name -> severity 0-10 or bool
)

// DateLayout is the wire and storage format of calendar dates
const DateLayout = "2006-01-02"

// Symptom severities share the pain scale
const (
	SymptomSeverityMin = 0
	SymptomSeverityMax = 10
)

// FieldSpec declares one field of an entry: its kind, whether it is required and
// the numeric range, length cap or enumerated values it must respect
type FieldSpec struct {
	Name      string    `json:"name"`
	Kind      FieldKind `json:"kind"`
	Required  bool      `json:"required"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	MaxLength int       `json:"max_length,omitempty"`
	Values    []string  `json:"values,omitempty"`
}

// IsNumeric reports whether the field holds a number (including numbers kept as text)
func (f FieldSpec) IsNumeric() bool {
	return f.Kind == KindInteger || f.Kind == KindDecimal || f.Kind == KindNumericText
}

// InRange checks a numeric value against the declared bounds
func (f FieldSpec) InRange(v float64) bool {
	if f.Min != nil && v < *f.Min {
		return false
	}
	if f.Max != nil && v > *f.Max {
		return false
	}
	return true
}

// Allows checks an enumerated value
func (f FieldSpec) Allows(v string) bool {
	for _, allowed := range f.Values {
		if allowed == v {
			return true
		}
	}
	return false
}

// AsRequired returns a copy of the spec marked as required
func (f FieldSpec) AsRequired() FieldSpec {
	f.Required = true
	return f
}

func bound(v float64) *float64 {
	return &v
}

// Integer declares a whole-number field within [min, max]
func Integer(name string, min, max float64) FieldSpec {
	return FieldSpec{Name: name, Kind: KindInteger, Min: bound(min), Max: bound(max)}
}

// Decimal declares a floating point field within [min, max]
func Decimal(name string, min, max float64) FieldSpec {
	return FieldSpec{Name: name, Kind: KindDecimal, Min: bound(min), Max: bound(max)}
}

// NumericText declares a whole-number field within [min, max] that is stored as text
func NumericText(name string, min, max float64) FieldSpec {
	return FieldSpec{Name: name, Kind: KindNumericText, Min: bound(min), Max: bound(max)}
}

// Text declares a free text field of at most maxLength characters
func Text(name string, maxLength int) FieldSpec {
	return FieldSpec{Name: name, Kind: KindText, MaxLength: maxLength}
}

// Enum declares a field restricted to the given values
func Enum(name string, values ...string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindEnum, Values: values}
}

// Bool declares a yes/no field
func Bool(name string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindBool}
}

// Date declares an ISO calendar date field
func Date(name string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindDate}
}

// Medications declares a medication adherence map
func Medications(name string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindMedications}
}

// Symptoms declares a symptom severity map
func Symptoms(name string) FieldSpec {
	return FieldSpec{Name: name, Kind: KindSymptoms, Min: bound(SymptomSeverityMin), Max: bound(SymptomSeverityMax)}
}
