package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/example/latency-dashboard/internal/usecase"
)

var (
	okColor      = color.New(color.FgGreen, color.Bold)
	failColor    = color.New(color.FgRed, color.Bold)
	skipColor    = color.New(color.FgYellow)
	summaryColor = color.New(color.FgCyan)
)

func printOK(w io.Writer, format string, args ...any) {
	okColor.Fprint(w, "OK ")
	fmt.Fprintf(w, format+"\n", args...)
}

func statusColor(status string) *color.Color {
	switch status {
	case usecase.StatusSucceeded:
		return okColor
	case usecase.StatusSkipped, usecase.StatusCancelled:
		return skipColor
	default:
		return failColor
	}
}

func formatMs(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.0fms", *v)
}

func printDateResult(w io.Writer, result *usecase.DateResult) {
	if result == nil {
		return
	}
	statusColor(result.Status).Fprintf(w, "%-9s ", result.Status)
	fmt.Fprintf(w, "%s  type=%s", result.Date, result.Type)
	switch {
	case result.Error != nil:
		fmt.Fprintf(w, "  %s: %s", result.Error.Kind, result.Error.Message)
	case result.Status == usecase.StatusSkipped:
		fmt.Fprint(w, "  data already present")
	case result.Status == usecase.StatusSucceeded:
		fmt.Fprintf(w, "  conversations=%d samples=%d failed=%d", result.Conversations, result.SamplesStored, result.FailedConversations)
		if s := result.Summary; s != nil {
			fmt.Fprintf(w, "  server p90/p99=%s/%s llm p90/p99=%s/%s",
				formatMs(s.ServerP90), formatMs(s.ServerP99), formatMs(s.LLMP90), formatMs(s.LLMP99))
		}
	}
	fmt.Fprintln(w)
}

func printRangeReport(w io.Writer, report *usecase.RangeReport) {
	summaryColor.Fprintf(w, "%s .. %s (type %s)\n", report.StartDate, report.EndDate, report.Type)
	for i := range report.Results {
		printDateResult(w, &report.Results[i])
	}
	fmt.Fprintf(w, "%d succeeded, %d failed, %d skipped", report.Succeeded, report.Failed, report.Skipped)
	if report.Cancelled {
		skipColor.Fprint(w, ", cancelled")
	}
	fmt.Fprintln(w)
}

func printRefreshResult(w io.Writer, result *usecase.RefreshResult) {
	summaryColor.Fprintf(w, "%s .. %s (type %s)\n", result.Window.DateRange.StartDate, result.Window.DateRange.EndDate, result.Window.MetricType)
	for _, summary := range result.Window.DailyMetrics {
		fmt.Fprintf(w, "%s  samples=%d  server p90/p99=%s/%s  llm p90/p99=%s/%s\n", summary.Date, summary.SampleCount,
			formatMs(summary.ServerP90), formatMs(summary.ServerP99), formatMs(summary.LLMP90), formatMs(summary.LLMP99))
	}
	printOK(w, "%d dates re-aggregated", len(result.Refreshed))
	if len(result.Busy) > 0 {
		skipColor.Fprintf(w, "skipped busy dates: %v\n", result.Busy)
	}
}
