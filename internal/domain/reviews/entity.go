package reviews

import (
	"time"

	"github.com/bryanwahyu/cloudsense/internal/domain/events"
)

// ReviewID tipe for Review
type ReviewID int64

// Status enum
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Severity enum
type Severity string

const (
	SeverityInfo   Severity = "info"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities so dedup can keep the worst duplicate.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Tool tags which analyzer produced a finding.
const (
	ToolStatic = "static"
	ToolAI     = "ai"
)

// Aggregate Root: Review — one review attempt for an Event. Terminal reviews
// are never mutated; a re-run creates a new row.
type Review struct {
	ID          ReviewID       `json:"id"`
	EventID     events.EventID `json:"event_id"`
	Status      Status         `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Summary     Summary        `json:"summary"`
	ArtifactURL string         `json:"artifact_url,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Finding is one issue surfaced by an analyzer; immutable once stored.
type Finding struct {
	ID        int64    `json:"id,omitempty"`
	ReviewID  ReviewID `json:"review_id,omitempty"`
	File      string   `json:"file,omitempty"`
	Severity  Severity `json:"severity"`
	Title     string   `json:"title"`
	Rationale string   `json:"rationale,omitempty"`
	StartLine int      `json:"start_line,omitempty"`
	EndLine   int      `json:"end_line,omitempty"`
	Patch     string   `json:"patch,omitempty"`
	Tool      string   `json:"tool"`
}

// Summary aggregates review output: counts per severity and per tool, plus
// per-analyzer errors. Failures are recorded here so tenants can see them.
type Summary struct {
	Total      int            `json:"total"`
	BySeverity map[string]int `json:"by_severity,omitempty"`
	ByTool     map[string]int `json:"by_tool,omitempty"`
	Errors     []string       `json:"errors,omitempty"`
}

// Summarize counts findings per severity and tool, carrying analyzer errors.
func Summarize(findings []Finding, errs []string) Summary {
	s := Summary{Total: len(findings), Errors: errs}
	if len(findings) > 0 {
		s.BySeverity = make(map[string]int)
		s.ByTool = make(map[string]int)
	}
	for _, f := range findings {
		s.BySeverity[string(f.Severity)]++
		s.ByTool[f.Tool]++
	}
	return s
}

// Dedupe keeps a single best finding per (tool, file, title, line range),
// preferring higher severity when duplicates collide.
func Dedupe(findings []Finding) []Finding {
	type key struct {
		tool, file, title string
		start, end        int
	}
	seen := make(map[key]int, len(findings))
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		k := key{f.Tool, f.File, f.Title, f.StartLine, f.EndLine}
		if i, ok := seen[k]; ok {
			if f.Severity.Rank() > out[i].Severity.Rank() {
				out[i] = f
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, f)
	}
	return out
}
