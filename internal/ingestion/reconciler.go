package ingestion

import (
	"time"

	"github.com/rpattn/herdtrack/internal/domain"
)

// DefaultIntervalMinutes spaces synthetic timestamps when the config omits an interval.
const DefaultIntervalMinutes = 60

// ReconcileTimestamp derives the normalized timestamp for the row at index.
// It always returns a value: an ISO-8601 string or domain.InvalidTimestamp.
func ReconcileTimestamp(row domain.Row, index int, cfg domain.TimestampConfig, mapping domain.ColumnMapping) string {
	dateColumn := firstNonEmpty(mapping.DateColumn, cfg.DateColumn)
	timeColumn := firstNonEmpty(mapping.TimeColumn, cfg.TimeColumn)

	// split date and time columns win whenever both carry a value
	if date, ok := row.Value(dateColumn); ok {
		if clock, ok := row.Value(timeColumn); ok {
			return composeLocal(date, clock)
		}
	}

	switch cfg.Format {
	case domain.TimestampAuto:
		if mapping.Timestamp == "" {
			return domain.InvalidTimestamp
		}
		raw, ok := row.Value(mapping.Timestamp)
		if !ok {
			return domain.InvalidTimestamp
		}
		if match := dateTimeFastPath.FindStringSubmatch(raw); match != nil {
			return checkLocal(match[1] + "T" + match[2])
		}
		ts, err := parseAnyTime(raw)
		if err != nil {
			return domain.InvalidTimestamp
		}
		return formatISO(ts)

	case domain.TimestampCustom:
		date, ok := row.Value(dateColumn)
		if !ok {
			date = cfg.StartDate
		}
		clock, ok := row.Value(timeColumn)
		if !ok {
			clock = cfg.StartTime
		}
		if clock == "" {
			clock = "00:00"
		}
		return composeLocal(date, clock)

	case domain.TimestampInterval:
		start, err := intervalStart(cfg)
		if err != nil {
			return domain.InvalidTimestamp
		}
		step := time.Duration(cfg.IntervalMinutes(DefaultIntervalMinutes)) * time.Minute
		return formatISO(start.Add(time.Duration(index) * step))
	}

	return domain.InvalidTimestamp
}

// ProcessRow attaches the reconciled timestamp to row.
func ProcessRow(row domain.Row, index int, cfg domain.TimestampConfig, mapping domain.ColumnMapping) domain.ProcessedRow {
	return domain.ProcessedRow{
		Row:       row,
		Timestamp: ReconcileTimestamp(row, index, cfg, mapping),
	}
}

// localLayout is the zone-less form produced for split date and time values.
const localLayout = "2006-01-02T15:04:05"

// composeLocal joins a date and a clock value into the zone-less ISO form.
func composeLocal(date, clock string) string {
	if date = normalizeDate(date); date == "" {
		return domain.InvalidTimestamp
	}
	return checkLocal(date + "T" + normalizeTime(clock))
}

// checkLocal returns value when it is a real calendar time and the invalid
// marker otherwise. Fractional seconds are accepted by time.Parse.
func checkLocal(value string) string {
	if _, err := time.Parse(localLayout, value); err != nil {
		return domain.InvalidTimestamp
	}
	return value
}

func intervalStart(cfg domain.TimestampConfig) (time.Time, error) {
	clock := cfg.StartTime
	if clock == "" {
		clock = "00:00"
	}
	return time.Parse(localLayout, normalizeDate(cfg.StartDate)+"T"+normalizeTime(clock))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
