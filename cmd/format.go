package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sells-group/authority-monitor/internal/history"
	"github.com/sells-group/authority-monitor/internal/model"
	"github.com/sells-group/authority-monitor/internal/perf"
	"github.com/sells-group/authority-monitor/internal/stats"
)

// formatSummary writes a run summary to out.
func formatSummary(out io.Writer, s model.RunSummary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%d\n", s.RunID)
	if !s.Timestamp.IsZero() {
		_, _ = fmt.Fprintf(w, "Started:\t%s (%s)\n", s.Timestamp.Format(time.RFC3339), humanize.Time(s.Timestamp))
	}
	_, _ = fmt.Fprintf(w, "Authorities:\t%d\n", s.AuthorityCount)
	_, _ = fmt.Fprintf(w, "  Failing:\t%d\n", s.FailingAuthorityCount)
	_, _ = fmt.Fprintf(w, "Scenarios:\t%d\n", s.TotalScenarioCount)
	_, _ = fmt.Fprintf(w, "  Passing:\t%d\n", s.PassingScenarioCount)
	_, _ = fmt.Fprintf(w, "  Failing:\t%d\n", s.FailingScenarioCount)
	_ = w.Flush()
}

// formatFailures writes failing results as a table.
func formatFailures(out io.Writer, results []model.ScenarioResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AUTHORITY\tTYPE\tACTION\tSTATUS\tERROR")
	_, _ = fmt.Fprintln(w, "---------\t----\t------\t------\t-----")
	for _, r := range results {
		auth := r.Authority
		if r.Subauthority != "" {
			auth += "/" + r.Subauthority
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			auth, r.ScenarioType, r.Action, r.Status, truncate(r.ErrorMessage, 60))
	}
	_ = w.Flush()
}

// formatHistory writes pass/fail counts per authority.
func formatHistory(out io.Writer, hist []model.AuthorityHistory) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AUTHORITY\tGOOD\tBAD\tPASS%")
	for _, h := range hist {
		pct := 0.0
		if total := h.Good + h.Bad; total > 0 {
			pct = float64(h.Good) * 100 / float64(total)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\n",
			h.Authority, humanize.Comma(int64(h.Good)), humanize.Comma(int64(h.Bad)), pct)
	}
	_ = w.Flush()
}

var statusGlyph = map[history.Status]string{
	history.NoData:            ".",
	history.FullyUp:           "U",
	history.MostlyUp:          "u",
	history.ExcessiveTimeouts: "T",
	history.BarelyUp:          "b",
	history.Down:              "D",
}

// formatUpDown writes one glyph per day, oldest first.
func formatUpDown(out io.Writer, hist []history.Authority) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, a := range hist {
		var b strings.Builder
		for _, d := range a.Days {
			g, ok := statusGlyph[d.Status]
			if !ok {
				g = "?"
			}
			b.WriteString(g)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", a.Authority, b.String())
	}
	_, _ = fmt.Fprintln(w, "\nU fully up  u mostly up  T timeouts  b barely up  D down  . no data")
	_ = w.Flush()
}

// formatDatatable writes full-request timings per authority and action.
func formatDatatable(out io.Writer, dt perf.Datatable) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window: %s\n\n", dt.Window)
	_, _ = fmt.Fprintln(w, "AUTHORITY\tACTION\tCOUNT\tAVG ms\tP10 ms\tP90 ms\tBYTES/ms")
	for _, r := range dt.Rows {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%.1f\t%.1f\t%.1f\n",
			r.Authority, r.Action,
			humanize.Comma(int64(r.Stats[stats.CountKey])),
			r.Stats[stats.Key(stats.FullRequest, stats.Avg)],
			r.Stats[stats.Key(stats.FullRequest, stats.P10)],
			r.Stats[stats.Key(stats.FullRequest, stats.P90)],
			r.Stats[perf.BytesPerMSKey],
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
