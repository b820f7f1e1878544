package domain_test

import (
	"testing"

	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(t *testing.T, condition domain.ConditionType, values map[string]any) (*domain.Entry, *domain.Descriptor) {
	t.Helper()
	d, err := domain.DefaultRegistry().Lookup(string(condition))
	require.NoError(t, err)

	e := domain.NewEntry(d.Type)
	e.PatientID = 123
	e.PatientName = "Jane Doe"
	e.SubmissionDate = "2025-01-10"
	for k, v := range values {
		e.Set(k, v)
	}
	return e, d
}

func TestClassify_CesareanNormalSubmission(t *testing.T) {
	e, d := newEntry(t, domain.ConditionCesarean, map[string]any{
		"temperature":              37.0,
		"blood_pressure_systolic":  "120",
		"blood_pressure_diastolic": "80",
		"heart_rate":               int64(75),
		"pain_level":               int64(2),
		"lochia_color":             "rubra",
		"lochia_amount":            "moderate",
		"uterine_firmness":         "firm",
		"wound_condition":          "clean",
		"urine_output":             int64(1500),
	})

	result := domain.Classify(e, d)
	assert.Equal(t, domain.UrgencyLow, result.Level)
	assert.Empty(t, result.RuleID)
}

func TestClassify_HypertensiveCrisis(t *testing.T) {
	e, d := newEntry(t, domain.ConditionHypertension, map[string]any{
		"blood_pressure_systolic":  "185",
		"blood_pressure_diastolic": "125",
		"heart_rate":               int64(90),
	})

	result := domain.Classify(e, d)
	assert.Equal(t, domain.UrgencyCritical, result.Level)
	assert.Equal(t, "R1", result.RuleID)
}

func TestClassify_KidneyLowOutput(t *testing.T) {
	e, d := newEntry(t, domain.ConditionKidney, map[string]any{
		"urine_output":         int64(300),
		"swelling_level":       int64(3),
		"breathing_difficulty": int64(8),
	})

	result := domain.Classify(e, d)
	assert.Equal(t, domain.UrgencyHigh, result.Level)
	assert.Equal(t, "K1", result.RuleID)
}

func TestClassify_CesareanHemorrhage(t *testing.T) {
	e, d := newEntry(t, domain.ConditionCesarean, map[string]any{
		"lochia_amount":            "heavy",
		"uterine_firmness":         "boggy",
		"blood_pressure_systolic":  "110",
		"blood_pressure_diastolic": "70",
	})

	result := domain.Classify(e, d)
	assert.Equal(t, domain.UrgencyCritical, result.Level)
	assert.Equal(t, "C1", result.RuleID)
}

func TestClassify_LochiaRubraAfterDayFour(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   domain.Urgency
	}{
		{
			name:   "day post op given",
			values: map[string]any{"lochia_color": "rubra", "day_post_op": int64(5)},
			want:   domain.UrgencyModerate,
		},
		{
			name:   "derived from surgery date",
			values: map[string]any{"lochia_color": "rubra", "surgery_date": "2025-01-03"},
			want:   domain.UrgencyModerate,
		},
		{
			name:   "day four is still expected",
			values: map[string]any{"lochia_color": "rubra", "day_post_op": int64(4)},
			want:   domain.UrgencyLow,
		},
		{
			name:   "day not derivable",
			values: map[string]any{"lochia_color": "rubra"},
			want:   domain.UrgencyLow,
		},
		{
			name:   "serosa after day four",
			values: map[string]any{"lochia_color": "serosa", "day_post_op": int64(9)},
			want:   domain.UrgencyLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, d := newEntry(t, domain.ConditionCesarean, tt.values)
			assert.Equal(t, tt.want, domain.Classify(e, d).Level)
		})
	}
}

func TestClassify_BaselineRules(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   domain.Urgency
		rule   string
	}{
		{"stage 2 hypertension", map[string]any{"blood_pressure_systolic": "165"}, domain.UrgencyHigh, "R2"},
		{"stage 1 diastolic", map[string]any{"blood_pressure_diastolic": "92"}, domain.UrgencyModerate, "R3"},
		{"bradycardia", map[string]any{"heart_rate": int64(38)}, domain.UrgencyHigh, "R4"},
		{"tachycardia", map[string]any{"heart_rate": int64(131)}, domain.UrgencyHigh, "R4"},
		{"heart rate at bound", map[string]any{"heart_rate": int64(130)}, domain.UrgencyLow, ""},
		{"high fever", map[string]any{"temperature": 39.2}, domain.UrgencyHigh, "R5"},
		{"fever", map[string]any{"temperature": 38.0}, domain.UrgencyModerate, "R6"},
		{"slow breathing", map[string]any{"respiratory_rate": int64(8)}, domain.UrgencyHigh, "R7"},
		{"severe pain", map[string]any{"pain_level": int64(8)}, domain.UrgencyHigh, "R8"},
		{"moderate pain", map[string]any{"pain_level": int64(5)}, domain.UrgencyModerate, "R9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, d := newEntry(t, domain.ConditionGeneral, tt.values)
			result := domain.Classify(e, d)
			assert.Equal(t, tt.want, result.Level)
			assert.Equal(t, tt.rule, result.RuleID)
		})
	}
}

func TestClassify_EarlierRuleWinsTie(t *testing.T) {
	// R2 and R4 are both high; R2 comes first
	e, d := newEntry(t, domain.ConditionGeneral, map[string]any{
		"blood_pressure_systolic": "170",
		"heart_rate":              int64(140),
	})

	assert.Equal(t, "R2", domain.Classify(e, d).RuleID)
}

func TestClassify_OverlayOutranksBaseline(t *testing.T) {
	e, d := newEntry(t, domain.ConditionDiabetes, map[string]any{
		"pain_level":            int64(6),
		"blood_glucose_fasting": 260.0,
	})

	result := domain.Classify(e, d)
	assert.Equal(t, domain.UrgencyCritical, result.Level)
	assert.Equal(t, "D1", result.RuleID)
}

func TestClassify_IdentifiersOnlyIsLow(t *testing.T) {
	for _, d := range domain.DefaultRegistry().Descriptors() {
		e, _ := newEntry(t, d.Type, nil)
		assert.Equal(t, domain.UrgencyLow, domain.Classify(e, d).Level, string(d.Type))
	}
}

func TestClassify_Deterministic(t *testing.T) {
	e, d := newEntry(t, domain.ConditionHeart, map[string]any{
		"chest_pain_episodes": int64(2),
		"edema_level":         int64(3),
		"temperature":         38.4,
	})

	first := domain.Classify(e, d)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, domain.Classify(e, d))
	}
	assert.Equal(t, domain.UrgencyHigh, first.Level)
	assert.Equal(t, "H1", first.RuleID)
}

func TestClassify_NilInputs(t *testing.T) {
	assert.Equal(t, domain.UrgencyLow, domain.Classify(nil, nil).Level)

	e, _ := newEntry(t, domain.ConditionGeneral, map[string]any{"pain_level": int64(9)})
	assert.Equal(t, domain.UrgencyHigh, domain.Classify(e, nil).Level)
}

func TestPredicates_IgnoreAbsentFields(t *testing.T) {
	e, _ := newEntry(t, domain.ConditionGeneral, nil)

	assert.False(t, domain.AtLeast("pain_level", 0)(e))
	assert.False(t, domain.Below("heart_rate", 1000)(e))
	assert.False(t, domain.Equals("health_trend", "")(e))
	assert.False(t, domain.NonEmpty("notes")(e))
	assert.False(t, domain.AllOf()(e))
	assert.False(t, domain.AnyOf()(e))
}

func TestUrgency_Rank(t *testing.T) {
	levels := domain.UrgencyLevels()
	for i := 1; i < len(levels); i++ {
		assert.Greater(t, levels[i].Rank(), levels[i-1].Rank())
	}
	assert.False(t, domain.IsValidUrgency("urgent"))
	assert.True(t, domain.UrgencyHigh.RequiresAlert())
	assert.True(t, domain.UrgencyCritical.RequiresAlert())
	assert.False(t, domain.UrgencyModerate.RequiresAlert())
}
