package domain

// ConditionType tags the medical category an entry was submitted under
type ConditionType string

const (
	ConditionGeneral      ConditionType = "general"
	ConditionHypertension ConditionType = "hypertension"
	ConditionDiabetes     ConditionType = "diabetes"
	ConditionHeart        ConditionType = "heart"
	ConditionCancer       ConditionType = "cancer"
	ConditionKidney       ConditionType = "kidney"
	ConditionAbdominal    ConditionType = "abdominal"
	ConditionCesarean     ConditionType = "cesarean"
)

// legacyConditionAliases maps tags still sent by older clients to their current kind
var legacyConditionAliases = map[string]ConditionType{
	"general_health":   ConditionGeneral,
	"cesarean_section": ConditionCesarean,
}

// Urgency is the derived severity label stored on every entry
type Urgency string

const (
	UrgencyLow      Urgency = "low"      // No rule matched
	UrgencyModerate Urgency = "moderate" // Needs follow-up at next review
	UrgencyHigh     Urgency = "high"     // Needs same-day clinician attention
	UrgencyCritical Urgency = "critical" // Needs immediate attention
)

// UrgencyLevels returns every urgency level from least to most severe
func UrgencyLevels() []Urgency {
	return []Urgency{UrgencyLow, UrgencyModerate, UrgencyHigh, UrgencyCritical}
}

// Rank orders urgency levels; unknown values rank below low
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 0
	case UrgencyModerate:
		return 1
	case UrgencyHigh:
		return 2
	case UrgencyCritical:
		return 3
	default:
		return -1
	}
}

// IsValidUrgency checks if an urgency value is one of the known levels
func IsValidUrgency(u Urgency) bool {
	return u.Rank() >= 0
}

// RequiresAlert reports whether an entry at this level is pushed to the alert queue
func (u Urgency) RequiresAlert() bool {
	return u.Rank() >= UrgencyHigh.Rank()
}
