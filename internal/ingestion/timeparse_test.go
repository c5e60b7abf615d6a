package ingestion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnyTime(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2024-01-01T10:00:00Z", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-01-01T10:00:00+02:00", time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)},
		{"2024-01-01 10:00:00", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2024/03/05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		{"Jan 2, 2024", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		{"1704103200", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"1704103200500", time.Date(2024, 1, 1, 10, 0, 0, int(500*time.Millisecond), time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseAnyTime(tt.raw)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseAnyTimeRejects(t *testing.T) {
	for _, raw := range []string{"", "   ", "not-a-date", "32/13/2024", "12345"} {
		_, err := parseAnyTime(raw)
		assert.Error(t, err, raw)
	}
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2024-12-25", normalizeDate("25/12/2024"))
	assert.Equal(t, "2024-02-05", normalizeDate("5/2/2024"))
	assert.Equal(t, "2024-12-25", normalizeDate("2024/12/25"))
	assert.Equal(t, "2024-12-25", normalizeDate("2024-12-25"))
	assert.Equal(t, "25.12.2024", normalizeDate("25.12.2024"))
	assert.Equal(t, "", normalizeDate("  "))
}

func TestNormalizeTime(t *testing.T) {
	assert.Equal(t, "09:30:00", normalizeTime("9:30"))
	assert.Equal(t, "09:30:15", normalizeTime("09:30:15"))
	assert.Equal(t, "23:59:59.250", normalizeTime("23:59:59.250"))
	assert.Equal(t, "noon", normalizeTime("noon"))
}

func TestParseNumber(t *testing.T) {
	value, ok := parseNumber(" -1.25 ")
	assert.True(t, ok)
	assert.Equal(t, -1.25, value)

	for _, raw := range []string{"", "abc", "NaN", "Inf", "-Inf", "1,5"} {
		_, ok := parseNumber(raw)
		assert.False(t, ok, raw)
	}
}
