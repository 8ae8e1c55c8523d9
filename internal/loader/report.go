package loader

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/utkarsh5026/bulkload/internal/protocol"
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

// Complete reports whether every batch succeeded and, for a run that started
// from an empty table, the stored row count matches the rows processed.
func (s Summary) Complete() bool {
	if s.Failed > 0 {
		return false
	}
	if s.Truncated && s.StoredRows >= 0 && s.StoredRows != s.Processed {
		return false
	}
	return true
}

// RowsPerSecond is the processed-row throughput of the run.
func (s Summary) RowsPerSecond() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Processed) / s.Elapsed.Seconds()
}

// Render writes a human-readable summary of the run to w.
func Render(w io.Writer, s Summary) {
	_, _ = fmt.Fprintln(w)
	_, _ = bold.Fprintf(w, "Run %s\n", s.RunID)

	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	_ = table.Append("Batches", fmt.Sprintf("%d (%d ok, %d failed)", s.Batches, s.Succeeded, s.Failed))
	_ = table.Append("Rows read", fmt.Sprint(s.RowsRead))
	if s.ExpectedRows > 0 {
		_ = table.Append("Rows expected", fmt.Sprint(s.ExpectedRows))
	}
	_ = table.Append("Rows inserted", fmt.Sprint(s.Processed))
	_ = table.Append("Rows skipped", fmt.Sprint(s.Skipped))
	if s.StoredRows >= 0 {
		_ = table.Append("Rows in table", fmt.Sprint(s.StoredRows))
	}
	_ = table.Append("Peak in flight", fmt.Sprint(s.PeakInFlight))
	_ = table.Append("Elapsed", s.Elapsed.Round(time.Millisecond).String())
	_ = table.Append("Throughput", fmt.Sprintf("%.0f rows/s", s.RowsPerSecond()))
	_ = table.Render()

	if len(s.FailuresByKind) > 0 {
		kinds := make([]string, 0, len(s.FailuresByKind))
		for k := range s.FailuresByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)

		_, _ = yellow.Fprintln(w, "Failed batches by kind:")
		for _, k := range kinds {
			_, _ = fmt.Fprintf(w, "  %-20s %d\n", k, s.FailuresByKind[protocol.ErrorKind(k)])
		}
	}

	switch {
	case s.Complete():
		_, _ = green.Fprintln(w, "Load complete.")
	case s.Failed > 0:
		_, _ = red.Fprintf(w, "Load finished with %d failed batches.\n", s.Failed)
	default:
		_, _ = red.Fprintf(w, "Row count mismatch: %d inserted, %d in table.\n", s.Processed, s.StoredRows)
	}
}
