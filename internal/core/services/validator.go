package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/IANDYI/progress-service/internal/core/domain"
)

// Payload keys with a meaning outside the field registry
const (
	KeyConditionType = "condition_type"
	KeySurgeryType   = "surgery_type" // Legacy spelling of condition_type
	KeyCommonData    = "common_data"
	KeyConditionData = "condition_data"
)

// reservedKeys are never reported as unknown; server-assigned ones are ignored
var reservedKeys = map[string]bool{
	"id":                 true,
	"submitted_at":       true,
	"urgency_status":     true,
	"selected_condition": true,
	KeyConditionType:     true,
	KeySurgeryType:       true,
	KeyCommonData:        true,
	KeyConditionData:     true,
}

// Submission date window relative to the validator clock
const (
	maxDaysInPast   = 365
	maxDaysInFuture = 1
)

// DecodePayload reads one JSON object, keeping numbers as json.Number so large
// identifiers survive intact
func DecodePayload(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, errors.New("payload must be a JSON object")
	}
	if dec.More() {
		return nil, errors.New("payload must contain a single JSON object")
	}
	return payload, nil
}

// DecodePayloadBytes is DecodePayload over an in-memory body
func DecodePayloadBytes(body []byte) (map[string]any, error) {
	return DecodePayload(bytes.NewReader(body))
}

// Flatten merges the optional common_data and condition_data objects into the top level.
// A key present both flat and nested keeps its flat value. Nested values that are not
// objects are reported as type violations.
func Flatten(payload map[string]any) (map[string]any, []domain.FieldError) {
	flat := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == KeyCommonData || k == KeyConditionData {
			continue
		}
		flat[k] = v
	}

	var errs []domain.FieldError
	for _, key := range []string{KeyCommonData, KeyConditionData} {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		nested, ok := raw.(map[string]any)
		if !ok {
			errs = append(errs, domain.FieldError{Field: key, Code: domain.CodeTypeViolation, Message: "must be an object"})
			continue
		}
		for k, v := range nested {
			if _, exists := flat[k]; !exists {
				flat[k] = v
			}
		}
	}
	return flat, errs
}

// ConditionTag extracts the condition tag of a flattened payload, accepting the legacy key
func ConditionTag(flat map[string]any) (string, bool) {
	for _, key := range []string{KeyConditionType, KeySurgeryType} {
		if s, ok := flat[key].(string); ok && strings.TrimSpace(s) != "" {
			return s, true
		}
	}
	return "", false
}

// EntryValidator normalizes untrusted submissions against the condition registry.
// It performs no I/O; the clock is injected for the submission date window.
type EntryValidator struct {
	registry *domain.Registry
	now      func() time.Time
}

// NewEntryValidator creates a validator; a nil clock defaults to time.Now
func NewEntryValidator(registry *domain.Registry, now func() time.Time) *EntryValidator {
	if now == nil {
		now = time.Now
	}
	return &EntryValidator{registry: registry, now: now}
}

// Resolve finds the descriptor named by a flattened payload
func (v *EntryValidator) Resolve(flat map[string]any) (*domain.Descriptor, error) {
	tag, ok := ConditionTag(flat)
	if !ok {
		return nil, &domain.ValidationError{Errors: []domain.FieldError{{
			Field:   KeyConditionType,
			Code:    domain.CodeMissingRequiredField,
			Message: "condition_type is required",
		}}}
	}
	d, err := v.registry.Lookup(tag)
	if err != nil {
		return nil, &domain.ValidationError{Errors: []domain.FieldError{{
			Field:   KeyConditionType,
			Code:    domain.CodeUnknownCondition,
			Message: fmt.Sprintf("unknown condition %q", tag),
		}}}
	}
	return d, nil
}

// Validate normalizes a flattened payload into an entry of the given condition.
// Every offending field is reported once; errors are ordered by field name.
func (v *EntryValidator) Validate(flat map[string]any, d *domain.Descriptor) (*domain.Entry, error) {
	entry := domain.NewEntry(d.Type)
	var errs []domain.FieldError

	for _, spec := range v.registry.Fields(d) {
		raw, present := flat[spec.Name]
		value, ok, fe := normalize(spec, raw, present)
		if fe != nil {
			errs = append(errs, *fe)
			continue
		}
		if !ok {
			if spec.Required {
				errs = append(errs, domain.FieldError{
					Field:   spec.Name,
					Code:    domain.CodeMissingRequiredField,
					Message: spec.Name + " is required",
				})
			}
			continue
		}
		if spec.Name == domain.FieldSubmissionDate {
			if fe := v.checkDateWindow(value.(string)); fe != nil {
				errs = append(errs, *fe)
				continue
			}
		}
		assign(entry, spec.Name, value)
	}

	if d.Strict {
		for key := range flat {
			if reservedKeys[key] {
				continue
			}
			if _, known := v.registry.FieldSpec(d, key); !known {
				errs = append(errs, domain.FieldError{
					Field:   key,
					Code:    domain.CodeUnknownField,
					Message: fmt.Sprintf("field %s is not accepted for condition %s", key, d.Type),
				})
			}
		}
	}

	if len(errs) > 0 {
		sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
		return nil, &domain.ValidationError{Errors: errs}
	}
	return entry, nil
}

func (v *EntryValidator) checkDateWindow(date string) *domain.FieldError {
	day, err := time.Parse(domain.DateLayout, date)
	if err != nil {
		return dateError(domain.FieldSubmissionDate)
	}
	now := v.now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	earliest := today.AddDate(0, 0, -maxDaysInPast)
	latest := today.AddDate(0, 0, maxDaysInFuture)
	if day.Before(earliest) || day.After(latest) {
		return &domain.FieldError{
			Field:   domain.FieldSubmissionDate,
			Code:    domain.CodeDateOutOfWindow,
			Message: fmt.Sprintf("must be between %s and %s", earliest.Format(domain.DateLayout), latest.Format(domain.DateLayout)),
		}
	}
	return nil
}

// dateError reports a value that is not an ISO calendar date
func dateError(field string) *domain.FieldError {
	return &domain.FieldError{Field: field, Code: domain.CodeDateOutOfWindow, Message: "must be a YYYY-MM-DD calendar date"}
}

func assign(entry *domain.Entry, name string, value any) {
	switch name {
	case domain.FieldPatientID:
		entry.PatientID = value.(int64)
	case domain.FieldPatientName:
		entry.PatientName = value.(string)
	case domain.FieldSubmissionDate:
		entry.SubmissionDate = value.(string)
	default:
		entry.Set(name, value)
	}
}

// normalize converts one raw value to its canonical type. ok is false when the field is
// absent (missing, null or blank).
func normalize(spec domain.FieldSpec, raw any, present bool) (value any, ok bool, fe *domain.FieldError) {
	if !present || raw == nil {
		return nil, false, nil
	}
	if s, isString := raw.(string); isString && strings.TrimSpace(s) == "" {
		return nil, false, nil
	}

	typeErr := func(msg string) *domain.FieldError {
		return &domain.FieldError{Field: spec.Name, Code: domain.CodeTypeViolation, Message: msg}
	}
	rangeErr := func() *domain.FieldError {
		return &domain.FieldError{Field: spec.Name, Code: domain.CodeRangeViolation, Message: rangeMessage(spec)}
	}

	switch spec.Kind {
	case domain.KindInteger, domain.KindNumericText:
		n, err := toNumber(raw)
		if err != nil || n != math.Trunc(n) {
			return nil, false, typeErr("must be a whole number")
		}
		if !spec.InRange(n) {
			return nil, false, rangeErr()
		}
		if spec.Kind == domain.KindNumericText {
			return strconv.FormatInt(int64(n), 10), true, nil
		}
		return int64(n), true, nil

	case domain.KindDecimal:
		n, err := toNumber(raw)
		if err != nil {
			return nil, false, typeErr("must be a number")
		}
		if !spec.InRange(n) {
			return nil, false, rangeErr()
		}
		return n, true, nil

	case domain.KindText:
		s, isString := raw.(string)
		if !isString {
			return nil, false, typeErr("must be text")
		}
		if spec.MaxLength > 0 && utf8.RuneCountInString(s) > spec.MaxLength {
			return nil, false, &domain.FieldError{
				Field:   spec.Name,
				Code:    domain.CodeRangeViolation,
				Message: fmt.Sprintf("must be at most %d characters", spec.MaxLength),
			}
		}
		return s, true, nil

	case domain.KindEnum:
		s, isString := raw.(string)
		if !isString {
			return nil, false, typeErr("must be text")
		}
		s = strings.TrimSpace(s)
		if !spec.Allows(s) {
			return nil, false, &domain.FieldError{
				Field:   spec.Name,
				Code:    domain.CodeEnumViolation,
				Message: fmt.Sprintf("must be one of %s", strings.Join(spec.Values, ", ")),
			}
		}
		return s, true, nil

	case domain.KindBool:
		switch b := raw.(type) {
		case bool:
			return b, true, nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return nil, false, typeErr("must be true or false")
			}
			return parsed, true, nil
		default:
			return nil, false, typeErr("must be true or false")
		}

	case domain.KindDate:
		s, isString := raw.(string)
		if !isString {
			return nil, false, dateError(spec.Name)
		}
		day, err := time.Parse(domain.DateLayout, strings.TrimSpace(s))
		if err != nil {
			return nil, false, dateError(spec.Name)
		}
		return day.Format(domain.DateLayout), true, nil

	case domain.KindMedications:
		return normalizeMedications(spec, raw)

	case domain.KindSymptoms:
		return normalizeSymptoms(spec, raw)
	}

	return nil, false, typeErr("unsupported field kind " + string(spec.Kind))
}

func normalizeMedications(spec domain.FieldSpec, raw any) (any, bool, *domain.FieldError) {
	typeErr := &domain.FieldError{Field: spec.Name, Code: domain.CodeTypeViolation, Message: "must map medication names to {taken, dose, time}"}

	items, isMap := raw.(map[string]any)
	if !isMap {
		return nil, false, typeErr
	}
	if len(items) == 0 {
		return nil, false, nil
	}

	meds := make(map[string]domain.Medication, len(items))
	for name, item := range items {
		if strings.TrimSpace(name) == "" {
			return nil, false, typeErr
		}
		fields, isMap := item.(map[string]any)
		if !isMap {
			return nil, false, typeErr
		}
		var med domain.Medication
		if taken, ok := fields["taken"]; ok && taken != nil {
			b, isBool := taken.(bool)
			if !isBool {
				return nil, false, typeErr
			}
			med.Taken = b
		}
		for key, dst := range map[string]*string{"dose": &med.Dose, "time": &med.Time} {
			if val, ok := fields[key]; ok && val != nil {
				s, isString := val.(string)
				if !isString {
					return nil, false, typeErr
				}
				*dst = s
			}
		}
		meds[name] = med
	}
	return meds, true, nil
}

func normalizeSymptoms(spec domain.FieldSpec, raw any) (any, bool, *domain.FieldError) {
	items, isMap := raw.(map[string]any)
	if !isMap {
		return nil, false, &domain.FieldError{Field: spec.Name, Code: domain.CodeTypeViolation, Message: "must map symptom names to a severity or true/false"}
	}
	if len(items) == 0 {
		return nil, false, nil
	}

	symptoms := make(map[string]any, len(items))
	for name, item := range items {
		if b, isBool := item.(bool); isBool {
			symptoms[name] = b
			continue
		}
		n, err := toNumber(item)
		if err != nil || n != math.Trunc(n) || strings.TrimSpace(name) == "" {
			return nil, false, &domain.FieldError{Field: spec.Name, Code: domain.CodeTypeViolation, Message: fmt.Sprintf("symptom %q must be a whole severity or true/false", name)}
		}
		if !spec.InRange(n) {
			return nil, false, &domain.FieldError{Field: spec.Name, Code: domain.CodeRangeViolation, Message: fmt.Sprintf("symptom %q %s", name, rangeMessage(spec))}
		}
		symptoms[name] = int64(n)
	}
	return symptoms, true, nil
}

// toNumber coerces JSON numbers and numeric strings
func toNumber(raw any) (float64, error) {
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, err
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, err
		}
		n = f
	default:
		return 0, fmt.Errorf("not a number: %T", raw)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not a finite number")
	}
	return n, nil
}

func rangeMessage(spec domain.FieldSpec) string {
	switch {
	case spec.Min != nil && spec.Max != nil:
		return fmt.Sprintf("must be between %s and %s", formatBound(*spec.Min), formatBound(*spec.Max))
	case spec.Min != nil:
		return "must be at least " + formatBound(*spec.Min)
	case spec.Max != nil:
		return "must be at most " + formatBound(*spec.Max)
	default:
		return "out of range"
	}
}

func formatBound(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
