package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures assertion failures instead of failing the test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestOutputAsserter_DefaultOptions(t *testing.T) {
	a := NewOutputAsserter(t)

	assert.True(t, a.options.IgnoreExtraKeys)
	assert.False(t, a.options.IgnoreArrayOrder)
	assert.True(t, a.options.TrimSpace)
	assert.True(t, a.options.IgnoreTrailingWhitespace)
	assert.False(t, a.options.EnableColors)
}

func TestOutputAsserter_AssertJSON(t *testing.T) {
	tests := []struct {
		name     string
		opts     []OutputOption
		actual   string
		expected string
		pass     bool
	}{
		{
			name:     "identical documents",
			actual:   `{"address": "AA", "rssi": -40}`,
			expected: `{"rssi": -40, "address": "AA"}`,
			pass:     true,
		},
		{
			name:     "extra keys ignored by default",
			actual:   `{"address": "AA", "rssi": -40, "connectable": true}`,
			expected: `{"address": "AA"}`,
			pass:     true,
		},
		{
			name:     "extra keys reported when not ignored",
			opts:     []OutputOption{WithIgnoreExtraKeys(false)},
			actual:   `{"address": "AA", "rssi": -40}`,
			expected: `{"address": "AA"}`,
			pass:     false,
		},
		{
			name:     "changed value",
			actual:   `{"address": "AA", "rssi": -41}`,
			expected: `{"address": "AA", "rssi": -40}`,
			pass:     false,
		},
		{
			name:     "presence placeholder matches any value",
			actual:   `{"address": "AA", "advertisement": "020106"}`,
			expected: `{"address": "AA", "advertisement": "<<PRESENCE>>"}`,
			pass:     true,
		},
		{
			name:     "presence placeholder requires the key",
			actual:   `{"address": "AA"}`,
			expected: `{"address": "AA", "advertisement": "<<PRESENCE>>"}`,
			pass:     false,
		},
		{
			name:     "top-level arrays",
			actual:   `[{"uuid": "180f", "name": "Battery Service"}, {"uuid": "ffe0"}]`,
			expected: `[{"uuid": "180f"}, {"uuid": "ffe0"}]`,
			pass:     true,
		},
		{
			name:     "array order matters by default",
			actual:   `{"services": ["1800", "180f"]}`,
			expected: `{"services": ["180f", "1800"]}`,
			pass:     false,
		},
		{
			name:     "array order ignored on request",
			opts:     []OutputOption{WithIgnoreArrayOrder(true)},
			actual:   `{"services": ["1800", "180f"]}`,
			expected: `{"services": ["180f", "1800"]}`,
			pass:     true,
		},
		{
			name:     "invalid actual JSON",
			actual:   `No devices discovered`,
			expected: `[]`,
			pass:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewOutputAsserter(rec, tt.opts...).AssertJSON(tt.actual, tt.expected)
			assert.Equal(t, tt.pass, len(rec.errors) == 0, "failures: %v", rec.errors)
		})
	}
}

func TestOutputAsserter_AssertText(t *testing.T) {
	t.Run("surrounding and trailing whitespace ignored", func(t *testing.T) {
		rec := &recordingT{}
		NewOutputAsserter(rec).AssertText("NAME  ADDRESS   \nThermo  AA  \n", "\nNAME  ADDRESS\nThermo  AA\n")
		assert.Empty(t, rec.errors)
	})

	t.Run("difference reported as unified diff", func(t *testing.T) {
		rec := &recordingT{}
		NewOutputAsserter(rec).AssertText("Wrote 2 bytes to ffe1", "Wrote 3 bytes to ffe1")

		if assert.Len(t, rec.errors, 1) {
			assert.Contains(t, rec.errors[0], "--- expected")
			assert.Contains(t, rec.errors[0], "+++ actual")
			assert.Contains(t, rec.errors[0], "-Wrote 3 bytes to ffe1")
			assert.Contains(t, rec.errors[0], "+Wrote 2 bytes to ffe1")
		}
	})

	t.Run("colored diff", func(t *testing.T) {
		rec := &recordingT{}
		NewOutputAsserter(rec, WithEnableColors(true)).AssertText("a", "b")

		if assert.Len(t, rec.errors, 1) {
			assert.Contains(t, rec.errors[0], "\x1b[")
		}
	})
}
