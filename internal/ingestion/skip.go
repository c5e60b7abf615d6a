package ingestion

import (
	"sort"

	"github.com/rpattn/herdtrack/internal/domain"
)

// SkipResult is the outcome of dropping rows that carry row level errors.
type SkipResult struct {
	Rows []domain.Row `json:"-"`
	// Removed is the number of distinct rows dropped.
	Removed int `json:"removed"`
	// SkippedIndices are the 0-based input positions that were dropped, ascending.
	SkippedIndices []int `json:"skippedIndices"`
	// AllRowsInvalid is set when every input row was flagged; Rows is then empty.
	AllRowsInvalid bool         `json:"allRowsInvalid"`
	Preview        []domain.Row `json:"preview"`
}

// SkipInvalidRows removes every row referenced by a row scoped issue. Dataset
// level issues never map to a row and are ignored here. Surviving rows keep
// their relative order.
func SkipInvalidRows(rows []domain.Row, issues []domain.Issue, previewRows int) SkipResult {
	if previewRows <= 0 {
		previewRows = DefaultPreviewRows
	}

	flagged := make(map[int]bool)
	for _, issue := range issues {
		if issue.Severity != domain.SeverityError {
			continue
		}
		idx, ok := issue.RowIndex()
		if !ok || idx >= len(rows) {
			continue
		}
		flagged[idx] = true
	}

	result := SkipResult{
		Rows:           []domain.Row{},
		Removed:        len(flagged),
		SkippedIndices: make([]int, 0, len(flagged)),
		Preview:        []domain.Row{},
	}
	for idx := range flagged {
		result.SkippedIndices = append(result.SkippedIndices, idx)
	}
	sort.Ints(result.SkippedIndices)

	if len(rows) > 0 && len(flagged) == len(rows) {
		result.AllRowsInvalid = true
		return result
	}

	for idx, row := range rows {
		if !flagged[idx] {
			result.Rows = append(result.Rows, row)
		}
	}
	if len(result.Rows) > previewRows {
		result.Preview = result.Rows[:previewRows]
	} else {
		result.Preview = result.Rows
	}
	return result
}
