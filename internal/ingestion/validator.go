package ingestion

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rpattn/herdtrack/internal/domain"
)

const (
	// DefaultSampleLimit caps how many rows a quick validation pass inspects.
	DefaultSampleLimit = 100
	// DefaultPreviewRows is the number of reconciled rows returned for display.
	DefaultPreviewRows = 5
	// DefaultDisplayLimit truncates rendered error and warning lists.
	DefaultDisplayLimit = 10

	msgNoData = "No data found in the file"
)

var timeOfDayPattern = regexp.MustCompile(`^\d{1,2}:\d{2}(:\d{2})?$`)

// ValidateOptions tunes a validation pass.
type ValidateOptions struct {
	// CheckRequiredColumns reports unmapped coordinates as a dataset error.
	CheckRequiredColumns bool
	// SampleLimit bounds the rows inspected; zero or negative means every row.
	SampleLimit int
	// PreviewRows is the number of rows run through the reconciler for preview.
	PreviewRows int
}

type numericCheck struct {
	label    string
	column   string
	min, max float64
}

// Validate checks rows against the mapping and timestamp config. Bad data is
// reported as issues; Validate never fails.
func Validate(rows []domain.Row, mapping domain.ColumnMapping, cfg domain.TimestampConfig, opts ValidateOptions) domain.ValidationResult {
	result := domain.ValidationResult{
		Errors:   []domain.Issue{},
		Warnings: []domain.Issue{},
		Preview:  []domain.ProcessedRow{},
	}

	previewRows := opts.PreviewRows
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}
	for idx := 0; idx < len(rows) && idx < previewRows; idx++ {
		result.Preview = append(result.Preview, ProcessRow(rows[idx], idx, cfg, mapping))
	}

	if len(rows) == 0 {
		result.Errors = append(result.Errors, domain.DatasetIssue(domain.SeverityError, msgNoData))
		return result
	}

	if opts.CheckRequiredColumns {
		if mapping.Latitude == "" {
			result.Errors = append(result.Errors, domain.DatasetIssue(domain.SeverityError, "Latitude column must be mapped"))
		}
		if mapping.Longitude == "" {
			result.Errors = append(result.Errors, domain.DatasetIssue(domain.SeverityError, "Longitude column must be mapped"))
		}
	}

	sample := rows
	if opts.SampleLimit > 0 && len(sample) > opts.SampleLimit {
		sample = sample[:opts.SampleLimit]
	}

	dateColumn := firstNonEmpty(mapping.DateColumn, cfg.DateColumn)
	timeColumn := firstNonEmpty(mapping.TimeColumn, cfg.TimeColumn)

	for idx, row := range sample {
		rowNumber := idx + 1

		for _, check := range []numericCheck{
			{label: "Latitude", column: mapping.Latitude, min: -90, max: 90},
			{label: "Longitude", column: mapping.Longitude, min: -180, max: 180},
		} {
			if check.column == "" {
				continue
			}
			raw, ok := row.Value(check.column)
			if !ok {
				result.Errors = append(result.Errors, domain.RowIssue(rowNumber, domain.SeverityError,
					fmt.Sprintf("Missing %s value", strings.ToLower(check.label))))
				continue
			}
			value, ok := parseNumber(raw)
			if !ok {
				result.Errors = append(result.Errors, domain.RowIssue(rowNumber, domain.SeverityError,
					fmt.Sprintf("Invalid %s value: %q", strings.ToLower(check.label), raw)))
				continue
			}
			if value < check.min || value > check.max {
				result.Errors = append(result.Errors, domain.RowIssue(rowNumber, domain.SeverityError,
					fmt.Sprintf("%s out of range: %s", check.label, formatNumber(value))))
			}
		}

		for _, check := range []numericCheck{
			{label: "Temperature", column: mapping.Temperature, min: -100, max: 100},
			{label: "Heart rate", column: mapping.HeartRate, min: 20, max: 300},
		} {
			raw, ok := row.Value(check.column)
			if !ok {
				continue
			}
			value, ok := parseNumber(raw)
			if !ok {
				result.Warnings = append(result.Warnings, domain.RowIssue(rowNumber, domain.SeverityWarning,
					fmt.Sprintf("Invalid %s value: %q", strings.ToLower(check.label), raw)))
				continue
			}
			if value < check.min || value > check.max {
				result.Warnings = append(result.Warnings, domain.RowIssue(rowNumber, domain.SeverityWarning,
					fmt.Sprintf("%s outside expected range: %s", check.label, formatNumber(value))))
			}
		}

		switch cfg.Format {
		case domain.TimestampAuto:
			if raw, ok := row.Value(mapping.Timestamp); ok {
				if _, err := parseAnyTime(raw); err != nil {
					result.Warnings = append(result.Warnings, domain.RowIssue(rowNumber, domain.SeverityWarning,
						fmt.Sprintf("Cannot parse timestamp: %q", raw)))
				}
			}
		case domain.TimestampCustom:
			if raw, ok := row.Value(dateColumn); ok {
				if _, err := parseAnyTime(normalizeDate(raw)); err != nil {
					result.Warnings = append(result.Warnings, domain.RowIssue(rowNumber, domain.SeverityWarning,
						fmt.Sprintf("Cannot parse date: %q", raw)))
				}
			}
			if raw, ok := row.Value(timeColumn); ok && !timeOfDayPattern.MatchString(raw) {
				result.Warnings = append(result.Warnings, domain.RowIssue(rowNumber, domain.SeverityWarning,
					fmt.Sprintf("Invalid time format: %q", raw)))
			}
		}
	}

	result.IsValid = len(result.Errors) == 0
	return result
}
