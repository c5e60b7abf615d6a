package domain

import "strings"

// InvalidTimestamp marks a row whose timestamp could not be reconciled.
const InvalidTimestamp = "Invalid date"

// Row is one parsed data line keyed by its original column header.
// Empty cells are stored as empty strings; a missing key and an empty value are equivalent.
type Row map[string]string

// Value returns the trimmed cell for column and whether it holds anything.
func (r Row) Value(column string) (string, bool) {
	if column == "" || r == nil {
		return "", false
	}
	raw, ok := r[column]
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ProcessedRow is a row paired with its reconciled timestamp.
type ProcessedRow struct {
	Row       Row    `json:"row"`
	Timestamp string `json:"_processedTimestamp"`
}

// ColumnMapping assigns CSV headers to semantic telemetry fields.
// Only Latitude and Longitude are required for persistence.
type ColumnMapping struct {
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
	Timestamp   string `json:"timestamp"`
	DateColumn  string `json:"dateColumn"`
	TimeColumn  string `json:"timeColumn"`
	Temperature string `json:"temperature"`
	HeartRate   string `json:"heartRate"`
	AnimalID    string `json:"animalId"`
	Species     string `json:"species"`
}

// HasCoordinates reports whether both coordinate columns are mapped.
func (m ColumnMapping) HasCoordinates() bool {
	return m.Latitude != "" && m.Longitude != ""
}

// HasTimestampSource reports whether a combined or split timestamp source is mapped.
func (m ColumnMapping) HasTimestampSource() bool {
	return m.Timestamp != "" || (m.DateColumn != "" && m.TimeColumn != "")
}

// Columns lists every mapped header without duplicates, in field order.
func (m ColumnMapping) Columns() []string {
	var out []string
	seen := make(map[string]bool)
	for _, col := range []string{
		m.Latitude, m.Longitude, m.Timestamp, m.DateColumn, m.TimeColumn,
		m.Temperature, m.HeartRate, m.AnimalID, m.Species,
	} {
		if col == "" || seen[col] {
			continue
		}
		seen[col] = true
		out = append(out, col)
	}
	return out
}

// TimestampFormat selects how the reconciler derives a row timestamp.
type TimestampFormat string

const (
	TimestampAuto     TimestampFormat = "auto"
	TimestampCustom   TimestampFormat = "custom"
	TimestampInterval TimestampFormat = "interval"
)

// Valid reports whether the format is one of the known modes.
func (f TimestampFormat) Valid() bool {
	switch f {
	case TimestampAuto, TimestampCustom, TimestampInterval:
		return true
	}
	return false
}

// TimestampConfig drives the timestamp reconciler. Only the fields tied to
// Format are consulted: StartDate/StartTime/Interval for interval,
// DateColumn/TimeColumn plus the start fallbacks for custom.
type TimestampConfig struct {
	Format     TimestampFormat `json:"format"`
	StartDate  string          `json:"startDate"`
	StartTime  string          `json:"startTime"`
	HasDate    bool            `json:"hasDate"`
	HasTime    bool            `json:"hasTime"`
	DateColumn string          `json:"dateColumn"`
	TimeColumn string          `json:"timeColumn"`
	// Interval is the spacing between consecutive rows in minutes.
	Interval *int `json:"interval,omitempty"`
}

// IntervalMinutes returns the configured interval or fallback when unset or non-positive.
func (c TimestampConfig) IntervalMinutes(fallback int) int {
	if c.Interval == nil || *c.Interval <= 0 {
		return fallback
	}
	return *c.Interval
}

// AnimalDetails is user supplied metadata stored with an uploaded dataset.
type AnimalDetails struct {
	Category       string   `json:"category"`
	Name           string   `json:"name" validate:"required"`
	Age            string   `json:"age"`
	Sex            string   `json:"sex"`
	Species        string   `json:"species" validate:"required"`
	SpeciesName    string   `json:"speciesName,omitempty"`
	Location       string   `json:"location,omitempty"`
	LocationName   string   `json:"locationName,omitempty"`
	GeoArea        string   `json:"geoArea,omitempty"`
	HealthStatus   string   `json:"healthStatus,omitempty"`
	Weight         *float64 `json:"weight,omitempty" validate:"omitempty,gt=0"`
	UploadInterval *int     `json:"upload_interval,omitempty" validate:"omitempty,gt=0"`
}

// Record flattens the details into the document shape persisted under AnalysisData.
func (d AnimalDetails) Record() map[string]any {
	record := map[string]any{
		"category": d.Category,
		"name":     d.Name,
		"age":      d.Age,
		"sex":      d.Sex,
		"species":  d.Species,
	}
	optional := map[string]string{
		"speciesName":  d.SpeciesName,
		"location":     d.Location,
		"locationName": d.LocationName,
		"geoArea":      d.GeoArea,
		"healthStatus": d.HealthStatus,
	}
	for key, value := range optional {
		if value != "" {
			record[key] = value
		}
	}
	if d.Weight != nil {
		record["weight"] = *d.Weight
	}
	if d.UploadInterval != nil {
		record["upload_interval"] = *d.UploadInterval
	}
	return record
}
