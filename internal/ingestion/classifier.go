package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rpattn/herdtrack/internal/domain"
)

// ClassifyInput is everything the column classifier looks at.
type ClassifyInput struct {
	Headers        []string
	Sample         []domain.Row
	Previous       domain.ColumnMapping
	PreviousConfig domain.TimestampConfig
}

// Classification holds the suggested mapping and timestamp mode.
type Classification struct {
	Mapping         domain.ColumnMapping   `json:"mapping"`
	TimestampConfig domain.TimestampConfig `json:"timestampConfig"`
}

type fieldRule struct {
	keywords []string
	// tokens must equal a whole word of the header
	tokens []string
	// numeric bounds accepted when sniffing the first sample row
	numeric  bool
	min, max float64
	assign   func(*domain.ColumnMapping, string)
	isMapped func(domain.ColumnMapping) bool
}

// Order matters: it is both the keyword scan order and the numeric sniffing priority.
var fieldRules = []fieldRule{
	{ // latitude
		keywords: []string{"latitude", "lat", "y-coordinate", "y_coordinate", "y coordinate"},
		numeric:  true,
		min:      -90,
		max:      90,
		assign:   func(m *domain.ColumnMapping, h string) { m.Latitude = h },
		isMapped: func(m domain.ColumnMapping) bool { return m.Latitude != "" },
	},
	{ // longitude
		keywords: []string{"longitude", "lng", "lon", "x-coordinate", "x_coordinate", "x coordinate"},
		numeric:  true,
		min:      -180,
		max:      180,
		assign:   func(m *domain.ColumnMapping, h string) { m.Longitude = h },
		isMapped: func(m domain.ColumnMapping) bool { return m.Longitude != "" },
	},
	{ // temperature
		keywords: []string{"temperature", "temp"},
		tokens:   []string{"celsius"},
		numeric:  true,
		min:      -50,
		max:      50,
		assign:   func(m *domain.ColumnMapping, h string) { m.Temperature = h },
		isMapped: func(m domain.ColumnMapping) bool { return m.Temperature != "" },
	},
	{ // heart rate
		keywords: []string{"heart", "pulse", "bpm"},
		tokens:   []string{"hr"},
		numeric:  true,
		min:      30,
		max:      200,
		assign:   func(m *domain.ColumnMapping, h string) { m.HeartRate = h },
		isMapped: func(m domain.ColumnMapping) bool { return m.HeartRate != "" },
	},
	{ // combined timestamp
		keywords: []string{"timestamp", "datetime", "date_time", "date-time"},
		tokens:   []string{"ts"},
		assign:   func(m *domain.ColumnMapping, h string) { m.Timestamp = h },
		isMapped: func(m domain.ColumnMapping) bool { return m.Timestamp != "" },
	},
	{ // animal id
		keywords: []string{"animal_id", "animalid", "animal id", "collar", "tag_id", "tagid"},
		tokens:   []string{"id", "tag"},
		assign:   func(m *domain.ColumnMapping, h string) { m.AnimalID = h },
		isMapped: func(m domain.ColumnMapping) bool { return m.AnimalID != "" },
	},
	{ // species
		keywords: []string{"species", "taxon"},
		assign:   func(m *domain.ColumnMapping, h string) { m.Species = h },
		isMapped: func(m domain.ColumnMapping) bool { return m.Species != "" },
	},
}

// Classify guesses the semantic role of each column. Fields already set in
// in.Previous are kept. The result depends only on the input.
func Classify(in ClassifyInput) Classification {
	mapping := in.Previous
	used := make(map[string]bool)
	for _, col := range mapping.Columns() {
		used[col] = true
	}

	// keyword pass
	for _, rule := range fieldRules {
		if rule.isMapped(mapping) {
			continue
		}
		for _, header := range in.Headers {
			if used[header] {
				continue
			}
			if matchesRule(header, rule) {
				rule.assign(&mapping, header)
				used[header] = true
				break
			}
		}
	}

	// date/time candidates
	var dateCandidates, timeCandidates []string
	for _, header := range in.Headers {
		if used[header] {
			continue
		}
		lower := strings.ToLower(header)
		hasDate := strings.Contains(lower, "date")
		hasTime := strings.Contains(lower, "time") && !strings.Contains(lower, "stamp")
		switch {
		case hasDate && !hasTime:
			dateCandidates = append(dateCandidates, header)
		case hasTime && !hasDate:
			timeCandidates = append(timeCandidates, header)
		}
	}

	config := in.PreviousConfig
	switch {
	case mapping.DateColumn != "" && mapping.TimeColumn != "":
		config.Format = domain.TimestampCustom
		config.DateColumn = mapping.DateColumn
		config.TimeColumn = mapping.TimeColumn
		config.HasDate, config.HasTime = true, true
	case len(dateCandidates) > 0 && len(timeCandidates) > 0 && mapping.Timestamp == "":
		mapping.DateColumn = dateCandidates[0]
		mapping.TimeColumn = timeCandidates[0]
		used[mapping.DateColumn] = true
		used[mapping.TimeColumn] = true
		config.Format = domain.TimestampCustom
		config.DateColumn = mapping.DateColumn
		config.TimeColumn = mapping.TimeColumn
		config.HasDate, config.HasTime = true, true
	default:
		if mapping.Timestamp == "" {
			// a lone date or time column is treated as a combined timestamp
			for _, candidate := range append(dateCandidates, timeCandidates...) {
				if !used[candidate] {
					mapping.Timestamp = candidate
					used[candidate] = true
					break
				}
			}
		}
		if mapping.Timestamp != "" {
			config.Format = domain.TimestampAuto
		} else {
			config.Format = domain.TimestampInterval
		}
	}

	// numeric sniffing on the first sample row
	if len(in.Sample) > 0 {
		first := in.Sample[0]
		for _, header := range in.Headers {
			if used[header] {
				continue
			}
			raw, ok := first.Value(header)
			if !ok {
				continue
			}
			value, ok := parseNumber(raw)
			if !ok {
				continue
			}
			for _, rule := range fieldRules {
				if !rule.numeric || rule.isMapped(mapping) {
					continue
				}
				if value >= rule.min && value <= rule.max {
					rule.assign(&mapping, header)
					used[header] = true
					break
				}
			}
		}
	}

	return Classification{Mapping: mapping, TimestampConfig: config}
}

func matchesRule(header string, rule fieldRule) bool {
	lower := strings.ToLower(strings.TrimSpace(header))
	for _, keyword := range rule.keywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	if len(rule.tokens) == 0 {
		return false
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		for _, token := range rule.tokens {
			if word == token {
				return true
			}
		}
	}
	return false
}

// Classifier memoizes Classify in a bounded cache. It is meant to live as
// long as one upload session.
type Classifier struct {
	cache *lru.Cache[string, Classification]
}

// NewClassifier returns a classifier caching up to size results.
func NewClassifier(size int) (*Classifier, error) {
	if size <= 0 {
		size = 32
	}
	cache, err := lru.New[string, Classification](size)
	if err != nil {
		return nil, errors.Wrap(err, "create classifier cache")
	}
	return &Classifier{cache: cache}, nil
}

// Classify returns the cached classification for equivalent input, computing it on a miss.
// The key covers the headers, sample length and previous state, not sample contents.
func (c *Classifier) Classify(in ClassifyInput) Classification {
	key, err := classifierKey(in)
	if err != nil {
		return Classify(in)
	}
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}
	result := Classify(in)
	c.cache.Add(key, result)
	return result
}

// Len reports the number of cached classifications.
func (c *Classifier) Len() int {
	return c.cache.Len()
}

// Purge drops every cached classification.
func (c *Classifier) Purge() {
	c.cache.Purge()
}

func classifierKey(in ClassifyInput) (string, error) {
	payload, err := json.Marshal(struct {
		Headers  []string               `json:"h"`
		Rows     int                    `json:"n"`
		Previous domain.ColumnMapping   `json:"m"`
		Config   domain.TimestampConfig `json:"c"`
	}{in.Headers, len(in.Sample), in.Previous, in.PreviousConfig})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
