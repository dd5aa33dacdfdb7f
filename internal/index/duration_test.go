package index

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDuration_PreservesOrder(t *testing.T) {
	durations := []time.Duration{
		time.Duration(math.MinInt64),
		-48 * time.Hour,
		-time.Second,
		-1,
		0,
		1,
		time.Second,
		26*time.Hour + 3*time.Minute,
		time.Duration(math.MaxInt64),
	}

	encoded := make([]string, len(durations))
	for i, d := range durations {
		encoded[i] = EncodeDuration(d)
		assert.Len(t, encoded[i], encodedDurationLen)

		back, err := DecodeDuration(encoded[i])
		require.NoError(t, err)
		assert.Equal(t, d, back)
	}
	assert.True(t, sort.StringsAreSorted(encoded), "encodings must sort like durations: %v", encoded)
}

func TestDecodeDuration_RejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "P1", "X0000000000000000001", "P000000000000000000a"} {
		_, err := DecodeDuration(s)
		assert.Error(t, err, s)
	}
}

func TestParseTimeSpan(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"00:10", 10 * time.Minute},
		{"00:00:01", time.Second},
		{"1.02:03:04", 26*time.Hour + 3*time.Minute + 4*time.Second},
		{"10675.00:00:00", 10675 * 24 * time.Hour},
		{"-00:00:01", -time.Second},
		{"-2.00:00:00", -48 * time.Hour},
		{"00:00:00.5", 500 * time.Millisecond},
		{"00:00:00.0000001", 100 * time.Nanosecond},
		{"23:59:59.9999999", 24*time.Hour - 100*time.Nanosecond},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeSpan(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimeSpan_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "24:00", "00:60", "00:00:60", "1.2.03:00", "00:00:00.12345678"} {
		_, err := ParseTimeSpan(in)
		assert.Error(t, err, in)
	}
}

func TestFormatTimeSpan_RoundTrip(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{time.Second, "00:00:01"},
		{-time.Second, "-00:00:01"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1.02:03:04"},
		{500 * time.Millisecond, "00:00:00.5000000"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatTimeSpan(tt.d))

			back, err := ParseTimeSpan(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.d, back)
		})
	}
}

func TestParseDuration_AcceptsAllForms(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{EncodeDuration(-3 * time.Second), -3 * time.Second},
		{"01:30:00", 90 * time.Minute},
		{"1h30m", 90 * time.Minute},
		{" -15m ", -15 * time.Minute},
	}
	for _, tt := range tests {
		got, err := ParseDuration(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseDuration("soon")
	assert.Error(t, err)
}
