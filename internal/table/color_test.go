package table

import (
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestColorHelper_FormatStatus(t *testing.T) {
	plainColors(t)

	helper := NewColorHelper()

	t.Run("passed status", func(t *testing.T) {
		assert.Equal(t, "✓ PASS", helper.FormatStatus(true))
	})

	t.Run("failed status", func(t *testing.T) {
		assert.Equal(t, "✗ FAIL", helper.FormatStatus(false))
	})
}

func TestColorHelper_FormatPercentage(t *testing.T) {
	plainColors(t)

	helper := NewColorHelper()

	tests := []struct {
		name     string
		value    float64
		expected string
	}{
		{name: "100%", value: 100.0, expected: "100.0%"},
		{name: "90%", value: 90.0, expected: "90.0%"},
		{name: "0%", value: 0.0, expected: "0.0%"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, helper.FormatPercentage(tt.value))
		})
	}
}

func TestColorHelper_FormatScore(t *testing.T) {
	plainColors(t)

	helper := NewColorHelper()
	low, high := 0.7, 0.93

	assert.Equal(t, "n/a", helper.FormatScore(nil, 0.7))
	assert.Equal(t, "0.70000", helper.FormatScore(&low, 0.7))
	assert.Equal(t, "0.93000", helper.FormatScore(&high, 0.7))
}

func TestColorHelper_ColorsDisabledWhenNoColor(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	helper := NewColorHelper()
	assert.False(t, helper.enabled)

	assert.Equal(t, "test", helper.Success("test"))
	assert.Equal(t, "test", helper.Failure("test"))
	assert.Equal(t, "test", helper.Warning("test"))
}
