package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRowValue(t *testing.T) {
	row := Row{"lat": " -1.5 ", "blank": "   "}

	value, ok := row.Value("lat")
	assert.True(t, ok)
	assert.Equal(t, "-1.5", value)

	for _, column := range []string{"blank", "missing", ""} {
		_, ok := row.Value(column)
		assert.False(t, ok, column)
	}

	var nilRow Row
	_, ok = nilRow.Value("lat")
	assert.False(t, ok)
}

func TestColumnMappingColumns(t *testing.T) {
	mapping := ColumnMapping{
		Latitude:   "gps",
		Longitude:  "gps",
		DateColumn: "d",
		TimeColumn: "t",
	}
	assert.Equal(t, []string{"gps", "d", "t"}, mapping.Columns())
	assert.True(t, mapping.HasCoordinates())
	assert.True(t, mapping.HasTimestampSource())

	assert.False(t, ColumnMapping{DateColumn: "d"}.HasTimestampSource())
	assert.False(t, ColumnMapping{Latitude: "lat"}.HasCoordinates())
}

func TestTimestampConfigInterval(t *testing.T) {
	zero, fifteen := 0, 15
	assert.Equal(t, 60, TimestampConfig{}.IntervalMinutes(60))
	assert.Equal(t, 60, TimestampConfig{Interval: &zero}.IntervalMinutes(60))
	assert.Equal(t, 15, TimestampConfig{Interval: &fifteen}.IntervalMinutes(60))

	assert.True(t, TimestampInterval.Valid())
	assert.False(t, TimestampFormat("hourly").Valid())
}

func TestAnimalDetailsRecord(t *testing.T) {
	weight := 420.5
	details := AnimalDetails{
		Category:     "livestock",
		Name:         "Bella",
		Species:      "cattle",
		LocationName: "North paddock",
		Weight:       &weight,
	}

	record := details.Record()

	assert.Equal(t, "Bella", record["name"])
	assert.Equal(t, "", record["age"])
	assert.Equal(t, "North paddock", record["locationName"])
	assert.Equal(t, 420.5, record["weight"])
	assert.NotContains(t, record, "geoArea")
	assert.NotContains(t, record, "upload_interval")
}

func TestProcessedRowJSON(t *testing.T) {
	encoded, err := json.Marshal(ProcessedRow{Row: Row{"a": "1"}, Timestamp: InvalidTimestamp})
	require.NoError(t, err)
	assert.JSONEq(t, `{"row":{"a":"1"},"_processedTimestamp":"Invalid date"}`, string(encoded))
}
