package core

import (
	"maps"
	"slices"
	"time"
)

// MaxIssueSamples caps the sample issues kept per source in a RunReport.
const MaxIssueSamples = 20

// RunStatus represents the status of a rebuild run.
type RunStatus string

// Run status constants.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Issue is one data-quality problem observed during a rebuild.
type Issue struct {
	Source  string    `json:"source,omitempty"`
	Table   string    `json:"table,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Line    int       `json:"line,omitempty"`
	RawName string    `json:"raw_name,omitempty"`
	Message string    `json:"message"`
}

// TableResult summarizes the rebuild of one normalized table.
type TableResult struct {
	Table      string `json:"table"`
	Loaded     int    `json:"loaded"`
	Excluded   int    `json:"excluded"`
	Duplicates int    `json:"duplicates"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Failed reports whether the table kept its prior state because of an error.
func (t *TableResult) Failed() bool { return t.Error != "" }

// SourceResult summarizes the load of one raw source.
type SourceResult struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
	Rows   int    `json:"rows"`
	Issues int    `json:"issues"`
	Error  string `json:"error,omitempty"`
}

// RunReport collects what happened during one rebuild.
type RunReport struct {
	RunID       string                  `json:"run_id"`
	Status      RunStatus               `json:"status"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt time.Time               `json:"completed_at"`
	Sources     []*SourceResult         `json:"sources"`
	Tables      map[string]*TableResult `json:"tables"`
	IssueCounts map[ErrorKind]int       `json:"issue_counts"`
	Samples     []Issue                 `json:"samples"`
	sampled     map[string]int
}

// NewRunReport returns an empty report for runID.
func NewRunReport(runID string, started time.Time) *RunReport {
	return &RunReport{
		RunID:       runID,
		Status:      RunStatusRunning,
		StartedAt:   started,
		Tables:      make(map[string]*TableResult),
		IssueCounts: make(map[ErrorKind]int),
	}
}

// AddIssue counts an issue and keeps it as a sample while the source is
// under MaxIssueSamples.
func (r *RunReport) AddIssue(issue Issue) {
	r.IssueCounts[issue.Kind]++
	if r.sampled == nil {
		r.sampled = make(map[string]int)
	}
	if r.sampled[issue.Source] >= MaxIssueSamples {
		return
	}
	r.sampled[issue.Source]++
	r.Samples = append(r.Samples, issue)
}

// Table returns the result entry for name, creating it on first use.
func (r *RunReport) Table(name string) *TableResult {
	t, ok := r.Tables[name]
	if !ok {
		t = &TableResult{Table: name}
		r.Tables[name] = t
	}
	return t
}

// TableNames returns the table names in sorted order.
func (r *RunReport) TableNames() []string {
	return slices.Sorted(maps.Keys(r.Tables))
}

// TotalIssues returns the number of issues across kinds.
func (r *RunReport) TotalIssues() int {
	n := 0
	for _, c := range r.IssueCounts {
		n += c
	}
	return n
}

// Finish sets the final status from table and source outcomes.
func (r *RunReport) Finish(completed time.Time) {
	r.CompletedAt = completed
	r.Status = RunStatusCompleted
	for _, t := range r.Tables {
		if t.Failed() {
			r.Status = RunStatusPartial
		}
	}
	for _, s := range r.Sources {
		if s.Error != "" {
			r.Status = RunStatusPartial
		}
	}
}
