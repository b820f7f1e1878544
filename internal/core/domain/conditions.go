package domain

// Enumerated values shared by several condition kinds
var (
	WoundConditions = []string{"clean", "reddened", "draining", "dehisced"}
	HealthTrends    = []string{"significantly_worse", "slightly_worse", "stable", "slightly_better", "significantly_better", "varies"}
	ActivityLevels  = []string{"bed_rest", "light", "normal", "active"}
)

// observationLength caps short free-text clinical observations
const observationLength = 100

// CommonFields returns the common vitals contract present on every entry
func CommonFields() []FieldSpec {
	return []FieldSpec{
		Integer(FieldPatientID, 1, 1<<53).AsRequired(),
		Text(FieldPatientName, 255).AsRequired(),
		Date(FieldSubmissionDate).AsRequired(),
		NumericText("blood_pressure_systolic", 50, 300),
		NumericText("blood_pressure_diastolic", 30, 200),
		Integer("heart_rate", 20, 250),
		Integer("respiratory_rate", 4, 60),
		Decimal("temperature", 30.0, 45.0),
		Integer("pain_level", 0, 10),
		Integer("energy_level", 0, 10),
		Decimal("sleep_hours", 0, 24),
		Integer("sleep_quality", 0, 10),
		Medications("medications"),
		Symptoms("symptoms"),
		Text("notes", 2000),
		Text("status", 50),
	}
}

// ConditionDescriptors returns the built-in condition kinds with their overlay rules
func ConditionDescriptors() []Descriptor {
	return []Descriptor{
		{
			Type:  ConditionGeneral,
			Label: "General health",
			Fields: []FieldSpec{
				Enum("health_trend", HealthTrends...),
				Integer("overall_wellbeing", 0, 10),
				Integer("primary_symptom_severity", 0, 10),
				Text("primary_symptom_description", 500),
			},
			Rules: []Rule{
				{ID: "G1", Severity: UrgencyHigh, Description: "severe primary symptom", Match: AtLeast("primary_symptom_severity", 8)},
				{ID: "G2", Severity: UrgencyModerate, Description: "health significantly worse", Match: Equals("health_trend", "significantly_worse")},
			},
		},
		{
			Type:  ConditionHypertension,
			Label: "Hypertension",
		},
		{
			Type:  ConditionDiabetes,
			Label: "Diabetes",
			Fields: []FieldSpec{
				Decimal("blood_glucose_fasting", 20, 600),
				Decimal("blood_glucose_postprandial", 20, 600),
				Decimal("insulin_units", 0, 300),
				Decimal("carbs_grams", 0, 1000),
				Enum("activity_level", ActivityLevels...),
			},
			Rules: []Rule{
				{ID: "D1", Severity: UrgencyCritical, Description: "fasting glucose dangerously high or low",
					Match: AnyOf(AtLeast("blood_glucose_fasting", 250), AtMost("blood_glucose_fasting", 54))},
				{ID: "D2", Severity: UrgencyModerate, Description: "fasting glucose out of target",
					Match: AnyOf(AtLeast("blood_glucose_fasting", 180), AtMost("blood_glucose_fasting", 70))},
				{ID: "D3", Severity: UrgencyHigh, Description: "postprandial glucose very high", Match: AtLeast("blood_glucose_postprandial", 300)},
			},
		},
		{
			Type:  ConditionHeart,
			Label: "Heart disease",
			Fields: []FieldSpec{
				Integer("chest_pain_episodes", 0, 50),
				Integer("edema_level", 0, 4),
				Integer("exercise_tolerance_minutes", 0, 600),
				Decimal("weight", 20, 400),
				Integer("breathing_difficulty", 0, 10),
			},
			Rules: []Rule{
				{ID: "H1", Severity: UrgencyHigh, Description: "chest pain in the last 24h", Match: AtLeast("chest_pain_episodes", 1)},
				{ID: "H2", Severity: UrgencyModerate, Description: "marked edema", Match: AtLeast("edema_level", 3)},
			},
		},
		{
			Type:  ConditionCancer,
			Label: "Cancer",
			Fields: []FieldSpec{
				Text("pain_location", 255),
				Integer("side_effects", 0, 10),
				Integer("chemo_cycle_day", 0, 365),
			},
			Rules: []Rule{
				{ID: "X1", Severity: UrgencyHigh, Description: "severe treatment side effects", Match: AtLeast("side_effects", 8)},
				{ID: "X2", Severity: UrgencyModerate, Description: "localized pain",
					Match: AllOf(NonEmpty("pain_location"), AtLeast("pain_level", 5))},
			},
		},
		{
			Type:  ConditionKidney,
			Label: "Kidney disease",
			Fields: []FieldSpec{
				Decimal("weight", 20, 400),
				Integer("swelling_level", 0, 4),
				Integer("urine_output", 0, 10000),
				Integer("fluid_intake", 0, 10000),
				Integer("breathing_difficulty", 0, 10),
				Integer("fatigue_level", 0, 10),
				Integer("nausea_level", 0, 10),
				Integer("itching_level", 0, 10),
			},
			Rules: []Rule{
				{ID: "K1", Severity: UrgencyHigh, Description: "low urine output", Match: Below("urine_output", 400)},
				{ID: "K2", Severity: UrgencyHigh, Description: "fluid overload signs",
					Match: AnyOf(AtLeast("breathing_difficulty", 7), AtLeast("swelling_level", 3))},
			},
		},
		{
			Type:   ConditionAbdominal,
			Label:  "Abdominal surgery",
			Strict: true,
			Fields: []FieldSpec{
				Enum("wound_condition", WoundConditions...),
				Integer("bowel_movements", 0, 20),
				Integer("bloating_level", 0, 10),
				Text("gi_function", observationLength),
				Text("nausea_vomiting", observationLength),
				Text("appetite", observationLength),
				Text("mobility", observationLength),
				Integer("fluid_intake", 0, 10000),
				Integer("urine_output", 0, 10000),
				Text("additional_notes", 2000),
			},
			Rules: []Rule{
				{ID: "A1", Severity: UrgencyHigh, Description: "wound draining or dehisced", Match: OneOf("wound_condition", "draining", "dehisced")},
				{ID: "A2", Severity: UrgencyModerate, Description: "severe bloating", Match: AtLeast("bloating_level", 8)},
			},
		},
		{
			Type:   ConditionCesarean,
			Label:  "Cesarean section",
			Strict: true,
			Fields: []FieldSpec{
				Decimal("fundal_height", 0, 40),
				Enum("uterine_firmness", "firm", "boggy"),
				Enum("lochia_color", "rubra", "serosa", "alba"),
				Enum("lochia_amount", "scant", "light", "moderate", "heavy"),
				Text("lochia_odor", observationLength),
				Enum("wound_condition", WoundConditions...),
				Text("wound_discharge_type", observationLength),
				Text("wound_tenderness", observationLength),
				Integer("urine_output", 0, 10000),
				Bool("urinary_retention"),
				Text("bowel_sounds", observationLength),
				Bool("flatus_passed"),
				Bool("bowel_movement"),
				Text("mobility_level", observationLength),
				Text("ambulation_distance", observationLength),
				Bool("breastfeeding"),
				Text("breast_engorgement", observationLength),
				Text("breast_tenderness", observationLength),
				Text("nipple_condition", observationLength),
				Text("feeding_frequency", observationLength),
				Text("additional_notes", 2000),
				Date("surgery_date"),
				Integer("day_post_op", 0, 365),
			},
			Rules: []Rule{
				{ID: "C1", Severity: UrgencyCritical, Description: "postpartum hemorrhage signs",
					Match: AllOf(Equals("lochia_amount", "heavy"), Equals("uterine_firmness", "boggy"))},
				{ID: "C2", Severity: UrgencyHigh, Description: "wound draining or dehisced", Match: OneOf("wound_condition", "draining", "dehisced")},
				{ID: "C3", Severity: UrgencyModerate, Description: "lochia rubra persisting past day 4",
					Match: AllOf(Equals("lochia_color", "rubra"), PostOpDayAfter(4))},
			},
		},
	}
}

var builtinRegistry = mustRegistry(CommonFields(), ConditionDescriptors()...)

func mustRegistry(common []FieldSpec, descriptors ...Descriptor) *Registry {
	r, err := NewRegistry(common, descriptors...)
	if err != nil {
		panic("invalid built-in condition registry: " + err.Error())
	}
	return r
}

// DefaultRegistry returns the registry of built-in condition kinds
func DefaultRegistry() *Registry {
	return builtinRegistry
}
