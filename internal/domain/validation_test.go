package domain

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueString(t *testing.T) {
	assert.Equal(t, "Row 3: Latitude out of range: -95",
		RowIssue(3, SeverityError, "Latitude out of range: -95").String())
	assert.Equal(t, "No data found in the file",
		DatasetIssue(SeverityError, "No data found in the file").String())
}

func TestIssueRowIndex(t *testing.T) {
	idx, ok := RowIssue(1, SeverityError, "x").RowIndex()
	assert.True(t, ok)
	assert.Equal(t, 0, idx)

	_, ok = DatasetIssue(SeverityError, "x").RowIndex()
	assert.False(t, ok)

	_, ok = RowIssue(0, SeverityError, "x").RowIndex()
	assert.False(t, ok)
}

func TestRenderIssuesTruncates(t *testing.T) {
	issues := make([]Issue, 0, 12)
	for i := 1; i <= 12; i++ {
		issues = append(issues, RowIssue(i, SeverityError, fmt.Sprintf("problem %d", i)))
	}

	rendered := RenderIssues(issues, 10, "errors")
	require.Len(t, rendered, 11)
	assert.Equal(t, "Row 1: problem 1", rendered[0])
	assert.Equal(t, "Row 10: problem 10", rendered[9])
	assert.Equal(t, "...and 2 more errors", rendered[10])

	assert.Len(t, RenderIssues(issues, 0, "errors"), 12)
	assert.Len(t, RenderIssues(issues[:10], 10, "errors"), 10)
}

func TestValidationResultDisplayKeepsStructuredIssues(t *testing.T) {
	result := ValidationResult{
		Errors: []Issue{
			DatasetIssue(SeverityError, "Latitude column must be mapped"),
			RowIssue(1, SeverityError, "Missing longitude value"),
			RowIssue(2, SeverityError, "Missing longitude value"),
		},
		Warnings: []Issue{RowIssue(1, SeverityWarning, "odd")},
	}

	errs, warnings := result.Display(1)
	assert.Equal(t, []string{"Latitude column must be mapped", "...and 2 more errors"}, errs)
	assert.Equal(t, []string{"Row 1: odd"}, warnings)
	assert.Len(t, result.Errors, 3)
	assert.Len(t, result.BlockingErrors(), 1)
}

func TestWizardStepText(t *testing.T) {
	assert.Equal(t, "configure_timestamps", StepConfigureTimestamps.String())
	assert.Equal(t, "unknown", WizardStep(42).String())

	encoded, err := json.Marshal(map[string]WizardStep{"step": StepPreviewAndUpload})
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":"preview_and_upload"}`, string(encoded))
}
