package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashID(t *testing.T) {
	h1 := HashID("patient-1")
	h2 := HashID("patient-1")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
	assert.NotEqual(t, h1, HashID("patient-2"))
	assert.Empty(t, HashID(""))
}

func TestScrubPII(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"caregiver is jane@example.com", "caregiver is [EMAIL]"},
		{"call +1 555-123-4567 on arrival", "call [PHONE] on arrival"},
		{"pregnant, 32 weeks", "pregnant, 32 weeks"},
		{"elderly", "elderly"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, ScrubPII(tt.input), "input: %s", tt.input)
	}
}
