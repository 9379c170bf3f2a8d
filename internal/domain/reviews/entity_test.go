package reviews

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusDone.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

func TestSeverityRankOrdering(t *testing.T) {
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), SeverityInfo.Rank())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestSummarize(t *testing.T) {
	findings := []Finding{
		{Severity: SeverityHigh, Tool: ToolStatic},
		{Severity: SeverityHigh, Tool: ToolAI},
		{Severity: SeverityLow, Tool: ToolStatic},
	}
	s := Summarize(findings, []string{"ai: timeout"})

	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.BySeverity["high"])
	assert.Equal(t, 1, s.BySeverity["low"])
	assert.Equal(t, 2, s.ByTool[ToolStatic])
	assert.Equal(t, 1, s.ByTool[ToolAI])
	assert.Equal(t, []string{"ai: timeout"}, s.Errors)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, nil)
	assert.Equal(t, 0, s.Total)
	assert.Nil(t, s.BySeverity)
	assert.Nil(t, s.ByTool)
}

func TestDedupeKeepsWorstSeverity(t *testing.T) {
	findings := []Finding{
		{Tool: ToolStatic, File: "a.go", Title: "Hardcoded credential literal", StartLine: 3, EndLine: 3, Severity: SeverityLow},
		{Tool: ToolStatic, File: "a.go", Title: "Hardcoded credential literal", StartLine: 3, EndLine: 3, Severity: SeverityHigh},
		{Tool: ToolAI, File: "a.go", Title: "Hardcoded credential literal", StartLine: 3, EndLine: 3, Severity: SeverityMedium},
	}
	out := Dedupe(findings)

	require.Len(t, out, 2)
	assert.Equal(t, SeverityHigh, out[0].Severity)
	assert.Equal(t, ToolStatic, out[0].Tool)
	assert.Equal(t, ToolAI, out[1].Tool)
}

func TestDedupeDistinctLinesSurvive(t *testing.T) {
	findings := []Finding{
		{Tool: ToolStatic, File: "a.go", Title: "AWS access key exposed", StartLine: 1, EndLine: 1, Severity: SeverityHigh},
		{Tool: ToolStatic, File: "a.go", Title: "AWS access key exposed", StartLine: 9, EndLine: 9, Severity: SeverityHigh},
	}
	assert.Len(t, Dedupe(findings), 2)
}
