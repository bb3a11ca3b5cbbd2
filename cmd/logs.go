package cmd

import (
	"fmt"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/attendance"
	"github.com/newaysecurity/cctv-clocking/internal/config"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query attendance records",
	Long: `Query the attendance log for a date range, optionally filtered by
employee name. Dates use the 2006-01-02 format and default to today.`,
	RunE: runLogs,
}

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().String("start", "", "Start date (2006-01-02, default today)")
	logsCmd.Flags().String("end", "", "End date (2006-01-02, default today)")
	logsCmd.Flags().String("name", "", "Filter by employee name")
	logsCmd.Flags().Bool("summary", false, "Show per-person daily summary instead of raw records")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log := newLogger()

	sink, err := attendance.NewSink(cfg.Attendance, log)
	if err != nil {
		return fmt.Errorf("opening attendance backend: %w", err)
	}
	gate := attendance.NewGate(sink, cfg.Recognition.DedupWindow(), log)

	start, err := parseDateFlag(cmd, "start")
	if err != nil {
		return err
	}
	end, err := parseDateFlag(cmd, "end")
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	if mustGetBool(cmd, "summary") {
		return printSummaries(gate, start, end)
	}

	records, err := gate.Events(start, end, mustGetString(cmd, "name"))
	if err != nil {
		return fmt.Errorf("reading attendance records: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No records found")
		return nil
	}
	fmt.Printf("%-20s %-12s %-10s %s\n", "NAME", "DATE", "TIME", "EVENT")
	for _, rec := range records {
		fmt.Printf("%-20s %-12s %-10s %s\n", rec.Name, rec.Date, rec.Time, rec.Kind)
	}
	fmt.Printf("\n%d record(s)\n", len(records))
	return nil
}

func printSummaries(gate *attendance.Gate, start, end time.Time) error {
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		summaries, err := gate.DailySummary(day)
		if err != nil {
			return fmt.Errorf("building summary for %s: %w", day.Format("2006-01-02"), err)
		}
		if len(summaries) == 0 {
			continue
		}
		fmt.Printf("%s\n", day.Format("2006-01-02"))
		for _, s := range summaries {
			fmt.Printf("  %-20s in %-10s out %-10s worked %s\n", s.Name, s.FirstIn, s.LastOut, s.Duration)
		}
	}
	return nil
}

func parseDateFlag(cmd *cobra.Command, name string) (time.Time, error) {
	raw := mustGetString(cmd, name)
	if raw == "" {
		return time.Now(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s date %q: %w", name, raw, err)
	}
	return t, nil
}
