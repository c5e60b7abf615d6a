package domain

import "fmt"

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Row is the 1-based position of the
// offending row in the validated input, or nil for dataset level findings.
type Issue struct {
	Row      *int     `json:"row,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// RowIssue builds an issue scoped to the 1-based row number.
func RowIssue(row int, severity Severity, message string) Issue {
	return Issue{Row: &row, Severity: severity, Message: message}
}

// DatasetIssue builds an issue that applies to the whole file.
func DatasetIssue(severity Severity, message string) Issue {
	return Issue{Severity: severity, Message: message}
}

// RowIndex returns the 0-based row index, if the issue is row scoped.
func (i Issue) RowIndex() (int, bool) {
	if i.Row == nil || *i.Row < 1 {
		return 0, false
	}
	return *i.Row - 1, true
}

func (i Issue) String() string {
	if i.Row != nil {
		return fmt.Sprintf("Row %d: %s", *i.Row, i.Message)
	}
	return i.Message
}

// ValidationResult is the outcome of validating a set of rows.
type ValidationResult struct {
	IsValid  bool           `json:"isValid"`
	Errors   []Issue        `json:"errors"`
	Warnings []Issue        `json:"warnings"`
	Preview  []ProcessedRow `json:"processedPreviewData"`
}

// BlockingErrors returns the dataset level errors.
func (r ValidationResult) BlockingErrors() []Issue {
	var out []Issue
	for _, issue := range r.Errors {
		if issue.Row == nil {
			out = append(out, issue)
		}
	}
	return out
}

// Display renders both lists for humans, truncated to limit entries each.
// Truncation is presentation only; Errors and Warnings keep every issue.
func (r ValidationResult) Display(limit int) (errs []string, warnings []string) {
	return RenderIssues(r.Errors, limit, "errors"), RenderIssues(r.Warnings, limit, "warnings")
}

// RenderIssues formats issues and appends an "...and N more <noun>" line past limit.
func RenderIssues(issues []Issue, limit int, noun string) []string {
	out := make([]string, 0, len(issues))
	for idx, issue := range issues {
		if limit > 0 && idx >= limit {
			out = append(out, fmt.Sprintf("...and %d more %s", len(issues)-limit, noun))
			break
		}
		out = append(out, issue.String())
	}
	return out
}
