package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Medication records adherence for one medication on the entry's day
type Medication struct {
	Taken bool   `json:"taken"`
	Dose  string `json:"dose,omitempty"`
	Time  string `json:"time,omitempty"`
}

// Entry is one persisted patient-day submission. The header is typed; every other
// declared field lives in Values, normalized to int64, float64, string, bool,
// map[string]Medication or map[string]any (symptom severities as int64 or bool).
// Entries are append-only once persisted.
type Entry struct {
	ID             int64
	ConditionType  ConditionType
	SubmittedAt    time.Time
	UrgencyStatus  Urgency
	PatientID      int64
	PatientName    string
	SubmissionDate string
	Values         map[string]any
}

// NewEntry creates an empty entry of the given condition kind
func NewEntry(condition ConditionType) *Entry {
	return &Entry{
		ConditionType: condition,
		UrgencyStatus: UrgencyLow,
		Values:        make(map[string]any),
	}
}

// Set stores a normalized field value; nil removes the field
func (e *Entry) Set(name string, value any) {
	if e.Values == nil {
		e.Values = make(map[string]any)
	}
	if value == nil {
		delete(e.Values, name)
		return
	}
	e.Values[name] = value
}

// Value returns a field value if it is populated
func (e *Entry) Value(name string) (any, bool) {
	v, ok := e.Values[name]
	return v, ok && v != nil
}

// Number returns a numeric field as float64. Numbers kept as text (blood pressure)
// are parsed; anything else that is not a number reports false.
func (e *Entry) Number(name string) (float64, bool) {
	v, ok := e.Value(name)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text returns a string field if it is populated and non-blank
func (e *Entry) Text(name string) (string, bool) {
	v, ok := e.Value(name)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Bool returns a boolean field if it is populated
func (e *Entry) Bool(name string) (bool, bool) {
	v, ok := e.Value(name)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// SubmissionDay parses the submission date
func (e *Entry) SubmissionDay() (time.Time, error) {
	return time.Parse(DateLayout, e.SubmissionDate)
}

// PostOpDay returns the day after surgery this entry was submitted on, from
// day_post_op when given, otherwise from submission_date - surgery_date
func (e *Entry) PostOpDay() (int, bool) {
	if day, ok := e.Number("day_post_op"); ok {
		return int(day), true
	}
	surgery, ok := e.Text("surgery_date")
	if !ok {
		return 0, false
	}
	surgeryDay, err := time.Parse(DateLayout, surgery)
	if err != nil {
		return 0, false
	}
	submitted, err := e.SubmissionDay()
	if err != nil {
		return 0, false
	}
	days := int(submitted.Sub(surgeryDay).Hours() / 24)
	if days < 0 {
		return 0, false
	}
	return days, true
}

// MarshalJSON renders the entry flat: header, provenance, urgency and every
// populated field at top level
func (e *Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Values)+7)
	for k, v := range e.Values {
		out[k] = v
	}
	out["id"] = e.ID
	out["condition_type"] = e.ConditionType
	out["submitted_at"] = e.SubmittedAt
	out["urgency_status"] = e.UrgencyStatus
	out[FieldPatientID] = e.PatientID
	out[FieldPatientName] = e.PatientName
	out[FieldSubmissionDate] = e.SubmissionDate
	return json.Marshal(out)
}

// UnmarshalJSON reads the flat form produced by MarshalJSON. Field values are
// normalized according to the built-in registry so a decoded entry compares equal
// to the one that was encoded.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var header struct {
		ID             int64         `json:"id"`
		ConditionType  ConditionType `json:"condition_type"`
		SubmittedAt    time.Time     `json:"submitted_at"`
		UrgencyStatus  Urgency       `json:"urgency_status"`
		PatientID      int64         `json:"patient_id"`
		PatientName    string        `json:"patient_name"`
		SubmissionDate string        `json:"submission_date"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}

	*e = Entry{
		ID:             header.ID,
		ConditionType:  header.ConditionType,
		SubmittedAt:    header.SubmittedAt,
		UrgencyStatus:  header.UrgencyStatus,
		PatientID:      header.PatientID,
		PatientName:    header.PatientName,
		SubmissionDate: header.SubmissionDate,
		Values:         make(map[string]any),
	}

	reg := DefaultRegistry()
	desc, _ := reg.Lookup(string(header.ConditionType))
	for name, msg := range raw {
		switch name {
		case "id", "condition_type", "submitted_at", "urgency_status":
			continue
		}
		if IsHeaderField(name) || bytes.Equal(msg, []byte("null")) {
			continue
		}
		kind := KindText
		if desc != nil {
			if spec, ok := reg.FieldSpec(desc, name); ok {
				kind = spec.Kind
			}
		}
		v, err := decodeStoredValue(kind, msg)
		if err != nil {
			return fmt.Errorf("field %s: %w", name, err)
		}
		e.Values[name] = v
	}
	return nil
}

func decodeStoredValue(kind FieldKind, msg json.RawMessage) (any, error) {
	switch kind {
	case KindInteger:
		var n int64
		err := json.Unmarshal(msg, &n)
		return n, err
	case KindDecimal:
		var f float64
		err := json.Unmarshal(msg, &f)
		return f, err
	case KindBool:
		var b bool
		err := json.Unmarshal(msg, &b)
		return b, err
	case KindMedications:
		var meds map[string]Medication
		err := json.Unmarshal(msg, &meds)
		return meds, err
	case KindSymptoms:
		return DecodeSymptoms(msg)
	default:
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			// Unregistered fields keep whatever JSON type they had
			var anyValue any
			if err := json.Unmarshal(msg, &anyValue); err != nil {
				return nil, err
			}
			return anyValue, nil
		}
		return s, nil
	}
}

// DecodeSymptoms reads a stored symptom map, keeping severities as int64 and flags as bool
func DecodeSymptoms(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for name, v := range raw {
		switch s := v.(type) {
		case json.Number:
			n, err := s.Int64()
			if err != nil {
				f, ferr := s.Float64()
				if ferr != nil {
					return nil, fmt.Errorf("symptom %s: %w", name, ferr)
				}
				n = int64(f)
			}
			out[name] = n
		case bool:
			out[name] = s
		default:
			return nil, fmt.Errorf("symptom %s: unsupported value %v", name, v)
		}
	}
	return out, nil
}
