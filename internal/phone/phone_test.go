package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_NormalizesEquivalentForms(t *testing.T) {
	inputs := []string{
		"09123456789",
		"9123456789",
		"+989123456789",
		" +98 912 345 6789 ",
		"0912-345-6789",
		"(0912) 345 6789",
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			n, err := Parse(in)

			require.NoError(t, err)
			assert.Equal(t, "+989123456789", n.String())
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		message string
	}{
		{"empty", "", "Phone number is required"},
		{"whitespace only", "   ", "Phone number is required"},
		{"wrong country code", "+1234567", "Only Iran phone numbers (+98) are supported"},
		{"nine digit local number", "912345678", "Iran phone number must be 10 digits after country code (e.g., +989123456789)"},
		{"too long", "+9891234567890", "Iran phone number must be 10 digits after country code (e.g., +989123456789)"},
		{"letters", "0912abc6789", "Phone number must be in E.164 format (e.g., +989123456789)"},
		{"leading zero after plus", "+0989123456789", "Phone number must be in E.164 format (e.g., +989123456789)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(tt.input)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPhone)
			assert.Equal(t, tt.message, err.Error())
			assert.True(t, n.IsZero())
		})
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("09123456789"))
	assert.False(t, IsValid("+1234567"))
	assert.False(t, IsValid(""))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "+989123456789", Normalize("09123456789"))
	assert.Equal(t, "+1234567", Normalize("+1 234-567"))
	assert.Equal(t, "", Normalize("  "))
}

func TestMustParse_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { MustParse("bogus") })
	assert.NotPanics(t, func() { MustParse("+989123456789") })
}
