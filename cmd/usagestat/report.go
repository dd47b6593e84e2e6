package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/usagestat/internal/storage"
	"github.com/goodtune/usagestat/internal/usage"
	"github.com/spf13/cobra"
)

var reportJSON bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the usage report",
	Long:  `Print the usage summary, the most used features overall and this week, and the features never used.`,
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) error {
	backend, err := openBackend()
	if err != nil {
		return err
	}
	defer backend.Close()

	report, err := backend.Report(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get report: %w", err)
	}
	out := cmd.OutOrStdout()

	if reportJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), usage.DefaultPersistTimeout)
	defer cancel()

	printReport(out, report, backend.Meta(ctx))
	return nil
}

// printReport prints the report with colors
func printReport(w io.Writer, report *usage.Report, meta *storage.RecordMeta) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)

	rule := strings.Repeat("━", 50)

	fmt.Fprintln(w)
	_, _ = cyan.Fprintln(w, rule)
	_, _ = cyan.Fprintln(w, "USAGE REPORT")
	_, _ = cyan.Fprintln(w, rule)
	fmt.Fprintln(w)

	s := report.Summary
	fmt.Fprintf(w, "First use:      %s\n", formatTime(&s.FirstUse))
	fmt.Fprintf(w, "Last use:       %s\n", formatTime(s.LastUse))
	fmt.Fprintf(w, "Sessions:       %d\n", s.TotalSessions)
	fmt.Fprintf(w, "Active minutes: %d\n", s.TotalActiveMinutes)
	fmt.Fprintf(w, "Features:       %d (%d used, %d unused)\n", s.TotalFeatures, s.UsedFeatures, s.UnusedFeatures)
	if meta != nil {
		fmt.Fprintf(w, "Last saved:     %s (%d bytes)\n", meta.SavedAt.Local().Format(time.DateTime), meta.Size)
	}

	printTop(w, cyan, green, "Top features (all time)", report.TopAllTime)
	printTop(w, cyan, green, "Top features (this week)", report.TopThisWeek)

	fmt.Fprintln(w)
	_, _ = cyan.Fprintln(w, "Never used")
	if len(report.UnusedFeatureNames) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, name := range report.UnusedFeatureNames {
		_, _ = yellow.Fprintf(w, "  %s\n", name)
	}

	fmt.Fprintln(w)
	_, _ = cyan.Fprintln(w, rule)
	fmt.Fprintln(w)
}

func printTop(w io.Writer, title, count *color.Color, heading string, rows []usage.FeatureCount) {
	fmt.Fprintln(w)
	_, _ = title.Fprintln(w, heading)
	if len(rows) == 0 {
		fmt.Fprintln(w, "  (none)")
		return
	}
	for i, row := range rows {
		fmt.Fprintf(w, "  %2d. %-24s ", i+1, row.Name)
		_, _ = count.Fprintf(w, "%d\n", row.Clicks)
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
