package ingestion

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/herdtrack/internal/domain"
)

var sensorMapping = domain.ColumnMapping{
	Latitude:    "lat",
	Longitude:   "lon",
	Temperature: "temp_C",
	Timestamp:   "ts",
}

var autoConfig = domain.TimestampConfig{Format: domain.TimestampAuto}

func issueStrings(issues []domain.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.String())
	}
	return out
}

func TestValidateLatitudeOutOfRange(t *testing.T) {
	rows := []domain.Row{
		{"lat": "-95", "lon": "36.8", "temp_C": "21", "ts": "2024-01-01 10:00:00"},
	}

	result := Validate(rows, sensorMapping, autoConfig, ValidateOptions{})

	assert.False(t, result.IsValid)
	assert.Equal(t, []string{"Row 1: Latitude out of range: -95"}, issueStrings(result.Errors))
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Preview, 1)
	assert.Equal(t, "2024-01-01T10:00:00", result.Preview[0].Timestamp)
}

func TestValidateUnparseableTimestampIsWarning(t *testing.T) {
	rows := []domain.Row{
		{"lat": "-1.5", "lon": "36.8", "temp_C": "21", "ts": "not-a-date"},
	}

	result := Validate(rows, sensorMapping, autoConfig, ValidateOptions{})

	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{`Row 1: Cannot parse timestamp: "not-a-date"`}, issueStrings(result.Warnings))
	assert.Equal(t, domain.InvalidTimestamp, result.Preview[0].Timestamp)
}

func TestValidateRowNumbersFollowInputOrder(t *testing.T) {
	rows := []domain.Row{
		{"lat": "1", "lon": "1", "ts": "2024-01-01 10:00:00"},
		{"lat": "1", "lon": "200", "ts": "2024-01-01 11:00:00"},
		{"lat": "abc", "lon": "", "ts": "2024-01-01 12:00:00"},
	}

	result := Validate(rows, sensorMapping, autoConfig, ValidateOptions{})

	assert.Equal(t, []string{
		"Row 2: Longitude out of range: 200",
		`Row 3: Invalid latitude value: "abc"`,
		"Row 3: Missing longitude value",
	}, issueStrings(result.Errors))
	for _, issue := range result.Errors {
		idx, ok := issue.RowIndex()
		require.True(t, ok)
		assert.Less(t, idx, len(rows))
	}
}

func TestValidateOptionalFieldsWarn(t *testing.T) {
	mapping := sensorMapping
	mapping.HeartRate = "hr"
	rows := []domain.Row{
		{"lat": "1", "lon": "1", "temp_C": "150", "hr": "fast", "ts": "2024-01-01 10:00:00"},
		{"lat": "1", "lon": "1", "temp_C": "", "hr": "10", "ts": "2024-01-01 11:00:00"},
	}

	result := Validate(rows, mapping, autoConfig, ValidateOptions{})

	assert.True(t, result.IsValid)
	assert.Equal(t, []string{
		"Row 1: Temperature outside expected range: 150",
		`Row 1: Invalid heart rate value: "fast"`,
		"Row 2: Heart rate outside expected range: 10",
	}, issueStrings(result.Warnings))
}

func TestValidateCustomTimestampColumns(t *testing.T) {
	mapping := domain.ColumnMapping{Latitude: "lat", Longitude: "lon", DateColumn: "date", TimeColumn: "time"}
	cfg := domain.TimestampConfig{Format: domain.TimestampCustom}
	rows := []domain.Row{
		{"lat": "1", "lon": "1", "date": "25/12/2024", "time": "9:30"},
		{"lat": "1", "lon": "1", "date": "someday", "time": "half past"},
	}

	result := Validate(rows, mapping, cfg, ValidateOptions{})

	assert.True(t, result.IsValid)
	assert.Equal(t, []string{
		`Row 2: Cannot parse date: "someday"`,
		`Row 2: Invalid time format: "half past"`,
	}, issueStrings(result.Warnings))
}

func TestValidateNoData(t *testing.T) {
	result := Validate(nil, sensorMapping, autoConfig, ValidateOptions{CheckRequiredColumns: true})

	assert.False(t, result.IsValid)
	require.Len(t, result.Errors, 1)
	assert.Nil(t, result.Errors[0].Row)
	assert.Equal(t, "No data found in the file", result.Errors[0].String())
	assert.Len(t, result.BlockingErrors(), 1)
}

func TestValidateRequiredColumns(t *testing.T) {
	rows := []domain.Row{{"lat": "1"}}
	mapping := domain.ColumnMapping{Latitude: "lat"}

	relaxed := Validate(rows, mapping, autoConfig, ValidateOptions{})
	assert.True(t, relaxed.IsValid)

	strict := Validate(rows, mapping, autoConfig, ValidateOptions{CheckRequiredColumns: true})
	assert.False(t, strict.IsValid)
	assert.Equal(t, []string{"Longitude column must be mapped"}, issueStrings(strict.BlockingErrors()))
}

func TestValidateSampleLimitAndPreview(t *testing.T) {
	rows := make([]domain.Row, 0, 20)
	for i := 0; i < 20; i++ {
		rows = append(rows, domain.Row{"lat": fmt.Sprint(100 + i), "lon": "1", "ts": "2024-01-01 10:00:00"})
	}

	result := Validate(rows, sensorMapping, autoConfig, ValidateOptions{SampleLimit: 4, PreviewRows: 3})
	assert.Len(t, result.Errors, 4)
	assert.Len(t, result.Preview, 3)

	full := Validate(rows, sensorMapping, autoConfig, ValidateOptions{})
	assert.Len(t, full.Errors, 20)
	assert.Len(t, full.Preview, DefaultPreviewRows)

	display, _ := full.Display(DefaultDisplayLimit)
	assert.Len(t, display, DefaultDisplayLimit+1)
	assert.Equal(t, "...and 10 more errors", display[DefaultDisplayLimit])
}
