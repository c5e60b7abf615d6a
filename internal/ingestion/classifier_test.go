package ingestion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/herdtrack/internal/domain"
)

func TestClassifyKeywordMatch(t *testing.T) {
	got := Classify(ClassifyInput{
		Headers: []string{"lat", "lon", "temp_C", "ts"},
		Sample: []domain.Row{
			{"lat": "-95", "lon": "36.8", "temp_C": "21", "ts": "2024-01-01 10:00:00"},
		},
	})

	assert.Equal(t, domain.ColumnMapping{
		Latitude:    "lat",
		Longitude:   "lon",
		Temperature: "temp_C",
		Timestamp:   "ts",
	}, got.Mapping)
	assert.Equal(t, domain.TimestampAuto, got.TimestampConfig.Format)
}

func TestClassifySplitDateAndTime(t *testing.T) {
	got := Classify(ClassifyInput{
		Headers: []string{"Date", "Time", "Latitude", "Longitude", "Heart Rate (bpm)"},
	})

	assert.Equal(t, "Latitude", got.Mapping.Latitude)
	assert.Equal(t, "Longitude", got.Mapping.Longitude)
	assert.Equal(t, "Heart Rate (bpm)", got.Mapping.HeartRate)
	assert.Equal(t, "Date", got.Mapping.DateColumn)
	assert.Equal(t, "Time", got.Mapping.TimeColumn)
	assert.Empty(t, got.Mapping.Timestamp)

	cfg := got.TimestampConfig
	assert.Equal(t, domain.TimestampCustom, cfg.Format)
	assert.Equal(t, "Date", cfg.DateColumn)
	assert.Equal(t, "Time", cfg.TimeColumn)
	assert.True(t, cfg.HasDate)
	assert.True(t, cfg.HasTime)
}

func TestClassifyLoneDateBecomesTimestamp(t *testing.T) {
	got := Classify(ClassifyInput{Headers: []string{"lat", "lon", "recorded_date"}})
	assert.Equal(t, "recorded_date", got.Mapping.Timestamp)
	assert.Equal(t, domain.TimestampAuto, got.TimestampConfig.Format)
}

func TestClassifyFallsBackToInterval(t *testing.T) {
	got := Classify(ClassifyInput{Headers: []string{"lat", "lon"}})
	assert.Equal(t, domain.TimestampInterval, got.TimestampConfig.Format)
	assert.False(t, got.Mapping.HasTimestampSource())
}

func TestClassifyNumericSniffingPriority(t *testing.T) {
	got := Classify(ClassifyInput{
		Headers: []string{"a", "b", "c", "d", "e"},
		Sample: []domain.Row{
			{"a": "45", "b": "120", "c": "25", "d": "150", "e": "hello"},
		},
	})

	assert.Equal(t, "a", got.Mapping.Latitude)
	assert.Equal(t, "b", got.Mapping.Longitude)
	assert.Equal(t, "c", got.Mapping.Temperature)
	assert.Equal(t, "d", got.Mapping.HeartRate)
	assert.NotContains(t, got.Mapping.Columns(), "e")
}

func TestClassifyKeepsPreviousMapping(t *testing.T) {
	got := Classify(ClassifyInput{
		Headers:  []string{"lat", "lon", "y", "x"},
		Previous: domain.ColumnMapping{Latitude: "y", Longitude: "x"},
	})
	assert.Equal(t, "y", got.Mapping.Latitude)
	assert.Equal(t, "x", got.Mapping.Longitude)
}

func TestClassifyIsDeterministic(t *testing.T) {
	in := ClassifyInput{
		Headers: []string{"timestamp", "gps_lat", "gps_lng", "body temp", "pulse", "collar"},
		Sample: []domain.Row{
			{"timestamp": "2024-01-01T00:00:00Z", "gps_lat": "1", "gps_lng": "2"},
		},
	}
	first := Classify(in)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Classify(in))
	}
	assert.Equal(t, "collar", first.Mapping.AnimalID)
}

func TestClassifierCache(t *testing.T) {
	classifier, err := NewClassifier(2)
	require.NoError(t, err)

	in := ClassifyInput{Headers: []string{"lat", "lon", "ts"}}
	want := Classify(in)

	assert.Equal(t, want, classifier.Classify(in))
	assert.Equal(t, want, classifier.Classify(in))
	assert.Equal(t, 1, classifier.Len())

	classifier.Classify(ClassifyInput{Headers: []string{"a"}})
	classifier.Classify(ClassifyInput{Headers: []string{"b"}})
	assert.Equal(t, 2, classifier.Len())

	classifier.Purge()
	assert.Equal(t, 0, classifier.Len())
}
