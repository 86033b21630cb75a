package alert

import (
	"testing"

	"github.com/qcryo/fridgectl/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleValidate(t *testing.T) {
	valid := Rule{
		Name:      "still-temp-low",
		Channel:   "still-temp",
		Operator:  OperatorLess,
		Threshold: 0.5,
		Severity:  SeverityWarning,
	}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(r *Rule)
	}{
		{"empty name", func(r *Rule) { r.Name = "" }},
		{"empty channel", func(r *Rule) { r.Channel = "" }},
		{"bad operator", func(r *Rule) { r.Operator = "~" }},
		{"bad severity", func(r *Rule) { r.Severity = "panic" }},
		{"negative hysteresis", func(r *Rule) { r.Hysteresis = -0.1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, ErrInvalidRule))
		})
	}
}

func TestClearingMargins(t *testing.T) {
	greater := Rule{Operator: OperatorGreater, Threshold: 0.050, Hysteresis: 0.002}
	assert.False(t, greater.clears(0.049), "inside the margin")
	assert.True(t, greater.clears(0.048), "at threshold minus hysteresis")
	assert.True(t, greater.clears(0.045))

	less := Rule{Operator: OperatorLess, Threshold: 0.500, Hysteresis: 0.010}
	assert.False(t, less.clears(0.505), "inside the margin")
	assert.True(t, less.clears(0.510), "at threshold plus hysteresis")

	equal := Rule{Operator: OperatorEqual, Threshold: 1, Hysteresis: 0.5}
	assert.False(t, equal.clears(1), "still equal")
	assert.False(t, equal.clears(1.2), "unequal but inside the margin")
	assert.True(t, equal.clears(1.5))

	notEqual := Rule{Operator: OperatorNotEqual, Threshold: 1, Hysteresis: 0.5}
	assert.True(t, notEqual.clears(1), "back at the threshold value")
	assert.False(t, notEqual.clears(0))
}

func TestZeroHysteresisClearsAtThreshold(t *testing.T) {
	r := Rule{Operator: OperatorGreater, Threshold: 0.050}
	assert.True(t, r.clears(0.050))
	assert.False(t, r.clears(0.0501))
}
