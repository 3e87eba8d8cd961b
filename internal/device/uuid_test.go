package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit lowercase", input: "1800", expected: "1800"},
		{name: "16-bit with separator", input: "18-00", expected: "1800"},
		{name: "16-bit uppercase", input: "180D", expected: "180d"},
		{name: "128-bit with dashes", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},
		{name: "SIG base UUID is not shortened", input: "0000180d-0000-1000-8000-00805f9b34fb", expected: "0000180d00001000800000805f9b34fb"},
		{name: "surrounding whitespace", input: " 2a37 ", expected: "2a37"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CanonicalUUID(tt.input))
		})
	}
}

func TestSameUUID(t *testing.T) {
	assert.True(t, SameUUID("1800", "18-00"))
	assert.True(t, SameUUID("1800", strings.ToUpper("1800")))
	assert.True(t, SameUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e", "6E400001B5A3F393E0A9E50E24DCCA9E"))
	assert.False(t, SameUUID("1800", "1801"))
}

func TestShortUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit", input: "2902", expected: "2902"},
		{name: "0x prefix", input: "0x2902", expected: "2902"},
		{name: "SIG base with dashes", input: "0000180d-0000-1000-8000-00805f9b34fb", expected: "180d"},
		{name: "SIG base uppercase without dashes", input: "0000180D00001000800000805F9B34FB", expected: "180d"},
		{name: "braces", input: "{0000180d-0000-1000-8000-00805f9b34fb}", expected: "180d"},
		{name: "custom 128-bit stays long", input: "6e400001-b5a3-f393-e0a9-e50e24dcca9e", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ShortUUID(tt.input))
		})
	}
}

func TestValidateUUID(t *testing.T) {
	t.Run("accepts 16-bit and 128-bit forms", func(t *testing.T) {
		got, err := ValidateUUID("180D", "0x2a37", "6e400001-b5a3-f393-e0a9-e50e24dcca9e")

		require.NoError(t, err)
		assert.Equal(t, []string{"180d", "2a37", "6e400001b5a3f393e0a9e50e24dcca9e"}, got)
	})

	t.Run("rejects empty input list", func(t *testing.T) {
		_, err := ValidateUUID()
		assert.EqualError(t, err, "at least one UUID is required")
	})

	t.Run("rejects empty entry", func(t *testing.T) {
		_, err := ValidateUUID("180d", "")
		assert.EqualError(t, err, "UUID at index 1 cannot be empty")
	})

	t.Run("rejects non hex short UUID", func(t *testing.T) {
		_, err := ValidateUUID("zz0d")
		assert.ErrorContains(t, err, "invalid UUID format at index 0")
	})

	t.Run("rejects bad 128-bit UUID", func(t *testing.T) {
		_, err := ValidateUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9x")
		assert.ErrorContains(t, err, "invalid UUID format at index 0")
	})

	t.Run("rejects odd length", func(t *testing.T) {
		_, err := ValidateUUID("18000")
		assert.ErrorContains(t, err, "invalid UUID length at index 0")
	})
}
