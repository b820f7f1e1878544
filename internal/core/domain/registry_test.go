package domain_test

import (
	"errors"
	"testing"

	"github.com/IANDYI/progress-service/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry_Conditions(t *testing.T) {
	reg := domain.DefaultRegistry()

	assert.Equal(t, []domain.ConditionType{
		domain.ConditionGeneral,
		domain.ConditionHypertension,
		domain.ConditionDiabetes,
		domain.ConditionHeart,
		domain.ConditionCancer,
		domain.ConditionKidney,
		domain.ConditionAbdominal,
		domain.ConditionCesarean,
	}, reg.Conditions())
}

func TestRegistry_Lookup(t *testing.T) {
	reg := domain.DefaultRegistry()

	tests := []struct {
		tag  string
		want domain.ConditionType
	}{
		{"cesarean", domain.ConditionCesarean},
		{"  Kidney ", domain.ConditionKidney},
		{"general_health", domain.ConditionGeneral},
		{"cesarean_section", domain.ConditionCesarean},
	}
	for _, tt := range tests {
		d, err := reg.Lookup(tt.tag)
		require.NoError(t, err, tt.tag)
		assert.Equal(t, tt.want, d.Type)
	}

	_, err := reg.Lookup("orthopedic")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownCondition))
}

func TestRegistry_FieldsListCommonFirst(t *testing.T) {
	reg := domain.DefaultRegistry()
	d, err := reg.Lookup("kidney")
	require.NoError(t, err)

	fields := reg.Fields(d)
	require.Len(t, fields, len(reg.Common())+len(d.Fields))
	assert.Equal(t, domain.FieldPatientID, fields[0].Name)
	assert.Equal(t, "weight", fields[len(reg.Common())].Name)

	spec, ok := reg.FieldSpec(d, "urine_output")
	require.True(t, ok)
	assert.Equal(t, domain.KindInteger, spec.Kind)

	_, ok = reg.FieldSpec(d, "lochia_color")
	assert.False(t, ok)
}

func TestRegistry_HeaderFieldsRequired(t *testing.T) {
	reg := domain.DefaultRegistry()
	for _, f := range reg.Common() {
		if domain.IsHeaderField(f.Name) {
			assert.True(t, f.Required, f.Name)
		}
	}
}

func TestNewRegistry_RejectsMalformedDescriptors(t *testing.T) {
	common := domain.CommonFields()

	tests := []struct {
		name        string
		common      []domain.FieldSpec
		descriptors []domain.Descriptor
	}{
		{
			name:        "duplicate condition",
			common:      common,
			descriptors: []domain.Descriptor{{Type: "a"}, {Type: "a"}},
		},
		{
			name:        "field shadows common field",
			common:      common,
			descriptors: []domain.Descriptor{{Type: "a", Fields: []domain.FieldSpec{domain.Integer("heart_rate", 0, 1)}}},
		},
		{
			name:        "enum without values",
			common:      common,
			descriptors: []domain.Descriptor{{Type: "a", Fields: []domain.FieldSpec{domain.Enum("mood")}}},
		},
		{
			name:        "inverted bounds",
			common:      common,
			descriptors: []domain.Descriptor{{Type: "a", Fields: []domain.FieldSpec{domain.Integer("steps", 10, 1)}}},
		},
		{
			name:        "rule without predicate",
			common:      common,
			descriptors: []domain.Descriptor{{Type: "a", Rules: []domain.Rule{{ID: "A1", Severity: domain.UrgencyHigh}}}},
		},
		{
			name:        "missing header field",
			common:      []domain.FieldSpec{domain.Integer(domain.FieldPatientID, 1, 10)},
			descriptors: []domain.Descriptor{{Type: "a"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := domain.NewRegistry(tt.common, tt.descriptors...)
			assert.Error(t, err)
		})
	}
}

func TestDescriptor_Table(t *testing.T) {
	d, err := domain.DefaultRegistry().Lookup("cesarean")
	require.NoError(t, err)
	assert.Equal(t, "cesarean_entries", d.Table())
}
