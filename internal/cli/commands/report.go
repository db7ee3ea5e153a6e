package commands

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/leapstack-labs/agrisim/internal/cli/output"
	"github.com/leapstack-labs/agrisim/internal/store"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// maxShownSamples caps the issue samples printed in text mode.
const maxShownSamples = 10

// renderReport prints a rebuild report.
func renderReport(r *output.Renderer, report *core.RunReport) error {
	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(report)
	}
	if r.EffectiveMode() == output.ModeCSV {
		return r.Table(tableHeader, tableRows(report))
	}

	r.Header(1, "Rebuild "+report.RunID)
	r.KeyValue("Status", statusText(r, report.Status))
	r.KeyValue("Started", report.StartedAt.Format("2006-01-02 15:04:05"))
	if !report.CompletedAt.IsZero() {
		r.KeyValue("Duration", report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond))
	}
	r.Println("")

	if len(report.Sources) > 0 {
		r.Header(2, "Sources")
		rows := make([][]string, 0, len(report.Sources))
		for _, s := range report.Sources {
			rows = append(rows, []string{s.Source, s.Kind, strconv.Itoa(s.Rows), strconv.Itoa(s.Issues), s.Error})
		}
		if err := r.Table([]string{"source", "kind", "rows", "issues", "error"}, rows); err != nil {
			return err
		}
		r.Println("")
	}

	r.Header(2, "Tables")
	if err := r.Table(tableHeader, tableRows(report)); err != nil {
		return err
	}

	if n := report.TotalIssues(); n > 0 {
		r.Println("")
		r.Header(2, fmt.Sprintf("Issues (%d)", n))
		for _, kind := range slices.Sorted(maps.Keys(report.IssueCounts)) {
			r.KeyValue(string(kind), report.IssueCounts[kind])
		}
		renderSamples(r, report.Samples)
	}
	return nil
}

var tableHeader = []string{"table", "loaded", "excluded", "duplicates", "status"}

func tableRows(report *core.RunReport) [][]string {
	rows := make([][]string, 0, len(report.Tables))
	for _, name := range report.TableNames() {
		t := report.Tables[name]
		status := "replaced"
		switch {
		case t.Failed():
			status = "kept prior: " + t.Error
		case t.Skipped:
			status = "skipped"
		}
		rows = append(rows, []string{name, strconv.Itoa(t.Loaded), strconv.Itoa(t.Excluded), strconv.Itoa(t.Duplicates), status})
	}
	return rows
}

func renderSamples(r *output.Renderer, samples []core.Issue) {
	if len(samples) == 0 {
		return
	}
	r.Println("")
	shown := samples
	if len(shown) > maxShownSamples {
		shown = shown[:maxShownSamples]
	}
	for _, is := range shown {
		where := is.Source
		if is.Line > 0 {
			where = fmt.Sprintf("%s:%d", is.Source, is.Line)
		}
		r.Printf("  %s %s %s\n", r.Styles().Muted.Render(where), r.Styles().Bold.Render(string(is.Kind)), is.Message)
	}
	if rest := len(samples) - len(shown); rest > 0 {
		r.Muted(fmt.Sprintf("  ... %d more (see `agrisim runs --issues`)", rest))
	}
}

func statusText(r *output.Renderer, s core.RunStatus) string {
	switch s {
	case core.RunStatusCompleted:
		return r.Styles().Success.Render(string(s))
	case core.RunStatusPartial:
		return r.Styles().Warning.Render(string(s))
	case core.RunStatusFailed:
		return r.Styles().Error.Render(string(s))
	}
	return string(s)
}

func summaryRows(runs []store.RunSummary) [][]string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		completed := ""
		if run.CompletedAt != nil {
			completed = run.CompletedAt.Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{run.RunID, string(run.Status), run.StartedAt.Format("2006-01-02 15:04:05"), completed})
	}
	return rows
}
