package domain

// Predicate is a declarative test over a normalized entry. Predicates never match
// absent fields: missing is not abnormal.
type Predicate func(e *Entry) bool

// Rule maps a predicate to the urgency it raises
type Rule struct {
	ID          string
	Severity    Urgency
	Description string
	Match       Predicate
}

// Classification is the outcome of evaluating the rule list against an entry
type Classification struct {
	Level  Urgency `json:"level"`
	RuleID string  `json:"rule_id,omitempty"` // Empty when no rule matched
}

// AtLeast matches when the numeric field is >= v
func AtLeast(field string, v float64) Predicate {
	return func(e *Entry) bool {
		n, ok := e.Number(field)
		return ok && n >= v
	}
}

// AtMost matches when the numeric field is <= v
func AtMost(field string, v float64) Predicate {
	return func(e *Entry) bool {
		n, ok := e.Number(field)
		return ok && n <= v
	}
}

// Above matches when the numeric field is > v
func Above(field string, v float64) Predicate {
	return func(e *Entry) bool {
		n, ok := e.Number(field)
		return ok && n > v
	}
}

// Below matches when the numeric field is < v
func Below(field string, v float64) Predicate {
	return func(e *Entry) bool {
		n, ok := e.Number(field)
		return ok && n < v
	}
}

// Equals matches a text or enum field exactly
func Equals(field, value string) Predicate {
	return func(e *Entry) bool {
		s, ok := e.Text(field)
		return ok && s == value
	}
}

// OneOf matches a text or enum field against a set of values
func OneOf(field string, values ...string) Predicate {
	return func(e *Entry) bool {
		s, ok := e.Text(field)
		if !ok {
			return false
		}
		for _, v := range values {
			if s == v {
				return true
			}
		}
		return false
	}
}

// NonEmpty matches a populated, non-blank text field
func NonEmpty(field string) Predicate {
	return func(e *Entry) bool {
		_, ok := e.Text(field)
		return ok
	}
}

// PostOpDayAfter matches when the post-op day is derivable and greater than day
func PostOpDayAfter(day int) Predicate {
	return func(e *Entry) bool {
		d, ok := e.PostOpDay()
		return ok && d > day
	}
}

// AnyOf matches when at least one predicate matches
func AnyOf(preds ...Predicate) Predicate {
	return func(e *Entry) bool {
		for _, p := range preds {
			if p(e) {
				return true
			}
		}
		return false
	}
}

// AllOf matches when every predicate matches
func AllOf(preds ...Predicate) Predicate {
	return func(e *Entry) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return len(preds) > 0
	}
}

// BaselineRules returns the rules evaluated for every condition, in priority order
func BaselineRules() []Rule {
	return []Rule{
		{ID: "R1", Severity: UrgencyCritical, Description: "hypertensive crisis",
			Match: AnyOf(AtLeast("blood_pressure_systolic", 180), AtLeast("blood_pressure_diastolic", 120))},
		{ID: "R2", Severity: UrgencyHigh, Description: "stage 2 hypertension",
			Match: AnyOf(AtLeast("blood_pressure_systolic", 160), AtLeast("blood_pressure_diastolic", 100))},
		{ID: "R3", Severity: UrgencyModerate, Description: "stage 1 hypertension",
			Match: AnyOf(AtLeast("blood_pressure_systolic", 140), AtLeast("blood_pressure_diastolic", 90))},
		{ID: "R4", Severity: UrgencyHigh, Description: "heart rate out of range",
			Match: AnyOf(Below("heart_rate", 40), Above("heart_rate", 130))},
		{ID: "R5", Severity: UrgencyHigh, Description: "high fever", Match: AtLeast("temperature", 39.0)},
		{ID: "R6", Severity: UrgencyModerate, Description: "fever", Match: AtLeast("temperature", 38.0)},
		{ID: "R7", Severity: UrgencyHigh, Description: "respiratory rate out of range",
			Match: AnyOf(Below("respiratory_rate", 10), Above("respiratory_rate", 24))},
		{ID: "R8", Severity: UrgencyHigh, Description: "severe pain", Match: AtLeast("pain_level", 8)},
		{ID: "R9", Severity: UrgencyModerate, Description: "moderate pain", Match: AtLeast("pain_level", 5)},
	}
}

var baselineRules = BaselineRules()

// Classify derives the urgency of an entry. Baseline rules are evaluated first, then
// the descriptor's overlay; the most severe match wins and the earlier rule wins a
// tie. No match yields low. A nil descriptor evaluates the baseline only.
func Classify(e *Entry, d *Descriptor) Classification {
	result := Classification{Level: UrgencyLow}
	if e == nil {
		return result
	}

	best := -1
	evaluate := func(rules []Rule) {
		for _, rule := range rules {
			if rule.Severity.Rank() <= best {
				continue
			}
			if rule.Match(e) {
				best = rule.Severity.Rank()
				result = Classification{Level: rule.Severity, RuleID: rule.ID}
			}
		}
	}

	evaluate(baselineRules)
	if d != nil {
		evaluate(d.Rules)
	}
	return result
}
