package ingestion

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// isoLayout matches the millisecond UTC form used for every synthesized timestamp.
const isoLayout = "2006-01-02T15:04:05.000Z"

var (
	// Zone-less layouts are read as UTC.
	timeLayouts = []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.000",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02 15:04:05.000000",
		"2006-01-02 15:04",
		"2006-01-02",
		"2006/01/02",
		"2006/01/02 15:04:05",
		"01/02/2006",
		"01/02/2006 15:04:05",
		"01/02/2006 15:04",
		"02/01/2006",
		"02/01/2006 15:04:05",
		"Jan 2, 2006",
		"Jan 2 2006",
		"2 Jan 2006",
		"January 2, 2006",
		time.RFC1123,
		time.RFC1123Z,
		time.RFC822,
		time.ANSIC,
		time.UnixDate,
	}

	dateTimeFastPath = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[ T](\d{2}:\d{2}:\d{2})$`)
	clockPattern     = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?(\.\d+)?$`)
	epochPattern     = regexp.MustCompile(`^\d{10}(\d{3})?$`)
)

// parseAnyTime accepts the layouts above plus 10 digit epoch seconds and 13 digit epoch milliseconds.
func parseAnyTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if epochPattern.MatchString(raw) {
		value, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			if len(raw) == 13 {
				return time.UnixMilli(value).UTC(), nil
			}
			return time.Unix(value, 0).UTC(), nil
		}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("unrecognized timestamp format %q", raw)
}

func formatISO(ts time.Time) string {
	return ts.UTC().Format(isoLayout)
}

// normalizeDate rewrites slash separated dates to YYYY-MM-DD. Day-first
// order (DD/MM/YYYY) is assumed unless the first part is a four digit year.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "-") || !strings.Contains(raw, "/") {
		return raw
	}
	parts := strings.Split(raw, "/")
	if len(parts) != 3 {
		return raw
	}
	if len(parts[0]) != 4 {
		parts[0], parts[2] = parts[2], parts[0]
	}
	for i, part := range parts {
		if len(part) == 1 {
			parts[i] = "0" + part
		}
	}
	return strings.Join(parts, "-")
}

// normalizeTime pads the hour and appends seconds when only HH:MM is given.
func normalizeTime(raw string) string {
	raw = strings.TrimSpace(raw)
	match := clockPattern.FindStringSubmatch(raw)
	if match == nil {
		return raw
	}
	hour := match[1]
	if len(hour) == 1 {
		hour = "0" + hour
	}
	seconds := match[3]
	if seconds == "" {
		seconds = "00"
	}
	return hour + ":" + match[2] + ":" + seconds + match[4]
}

// parseNumber parses a finite float; NaN and Inf are rejected.
func parseNumber(raw string) (float64, bool) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
