package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fptr(v float64) *float64 { return &v }

func TestCheckReadingRangesPlausible(t *testing.T) {
	r := &Reading{
		Temperature: fptr(20),
		Humidity:    fptr(50),
		Light:       fptr(3),
		Noise:       fptr(25),
	}
	assert.Empty(t, CheckReadingRanges(r))
}

func TestCheckReadingRangesFlagsOutliers(t *testing.T) {
	r := &Reading{
		Temperature: fptr(5),    // below 15
		Humidity:    fptr(50),   // fine
		Light:       fptr(5000), // above 2000
		Noise:       fptr(130),  // above 120
	}
	assert.Equal(t, []string{"temperature", "light", "noise"}, CheckReadingRanges(r))
}

func TestCheckReadingRangesIgnoresUnmeasured(t *testing.T) {
	r := &Reading{Temperature: fptr(20)}
	assert.Empty(t, CheckReadingRanges(r))
}

func TestCheckReadingRangesBoundariesInclusive(t *testing.T) {
	r := &Reading{
		Temperature: fptr(15),
		Humidity:    fptr(100),
		Light:       fptr(0),
		Noise:       fptr(120),
	}
	assert.Empty(t, CheckReadingRanges(r))
}

func TestValidateAlert(t *testing.T) {
	good := ComfortAlert{
		Kind:      AlertLowComfort,
		SessionID: "s1",
		ReadingID: "r1",
	}
	require.NoError(t, ValidateAlert(&good))

	cases := []struct {
		name   string
		mutate func(*ComfortAlert)
	}{
		{"missing session", func(a *ComfortAlert) { a.SessionID = "" }},
		{"missing reading", func(a *ComfortAlert) { a.ReadingID = "" }},
		{"missing kind", func(a *ComfortAlert) { a.Kind = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := good
			tc.mutate(&a)
			err := ValidateAlert(&a)
			require.Error(t, err)
			var appErr *AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, ErrCodeValidationMissingField, appErr.Code)
		})
	}
}
