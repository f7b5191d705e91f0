package hours

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_WholeHours(t *testing.T) {
	for hour := 0; hour <= 23; hour++ {
		got, err := Parse(fmt.Sprintf("%d", hour))
		require.NoError(t, err)
		assert.Equal(t, hour, got.Hour())
		assert.Equal(t, 0, got.Minute())
		assert.Equal(t, 0, got.Second())

		// Zero-padded form must normalize identically.
		padded, err := Parse(fmt.Sprintf("%02d", hour))
		require.NoError(t, err)
		assert.Equal(t, got, padded)
	}
}

func TestParse_ClockStrings(t *testing.T) {
	got, err := Parse("08:36")
	require.NoError(t, err)
	assert.Equal(t, "08:36:00", got.String())

	got, err = Parse("23:59:59")
	require.NoError(t, err)
	assert.Equal(t, "23:59:59", got.String())
}

func TestParse_FractionalHours(t *testing.T) {
	got, err := Parse("17.5")
	require.NoError(t, err)
	assert.Equal(t, "17:30:00", got.String())

	got, err = Parse("8.25")
	require.NoError(t, err)
	assert.Equal(t, "08:15:00", got.String())
}

func TestParse_FractionalMinuteCarry(t *testing.T) {
	// The fraction rounds up to a full 60 minutes and must carry into the
	// next hour instead of producing 17:60.
	got, err := Parse("17.9999")
	require.NoError(t, err)
	assert.Equal(t, "18:00:00", got.String())

	// Carry at the top of the day yields the 24:00:00 end-of-day bound.
	got, err = Parse("23.9999")
	require.NoError(t, err)
	assert.Equal(t, "24:00:00", got.String())
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"",
		"abc",
		"25",
		"-1",
		"24",
		"12:60",
		"99:00",
		"12:00:75",
		"1:2:3:4",
		"24.5",
		"-0.5",
	}

	for _, raw := range cases {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidTimeFormat, "input %q", raw)
	}
}

func TestFromClock(t *testing.T) {
	ts := time.Date(2024, 3, 15, 8, 36, 15, 0, time.UTC)
	assert.Equal(t, "08:36:15", FromClock(ts).String())
}

func TestWindow_ContainsInclusive(t *testing.T) {
	w, err := ParseWindow("8", "18")
	require.NoError(t, err)

	// Both bounds are inclusive.
	assert.True(t, w.Contains(w.Start))
	assert.True(t, w.Contains(w.End))

	assert.True(t, w.Contains(FromClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))))
	assert.False(t, w.Contains(FromClock(time.Date(2024, 1, 1, 7, 59, 59, 0, time.UTC))))
	assert.False(t, w.Contains(FromClock(time.Date(2024, 1, 1, 18, 0, 1, 0, time.UTC))))
}

func TestParseWindow_Invalid(t *testing.T) {
	_, err := ParseWindow("abc", "18")
	assert.ErrorIs(t, err, ErrInvalidTimeFormat)

	_, err = ParseWindow("8", "6pm")
	assert.ErrorIs(t, err, ErrInvalidTimeFormat)
}
