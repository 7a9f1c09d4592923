package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List the scheduled session windows of a subject",
	Long: `List the weekly windows in which sessions of a subject may start.

Examples:
  rollcall windows --subject MATH101
  rollcall windows --subject MATH101 --section 2 --json`,
	RunE: runWindows,
}

func init() {
	rootCmd.AddCommand(windowsCmd)

	windowsCmd.Flags().String("subject", "", "Subject ID (required)")
	windowsCmd.Flags().Int("section", 0, "Only show this section (0 = all)")
	windowsCmd.Flags().Bool("json", false, "Output as JSON")
	_ = windowsCmd.MarkFlagRequired("subject")
}

func runWindows(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	rt, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	windows, err := rt.roster.FetchSessionWindows(ctx, mustGetString(cmd, "subject"))
	if err != nil {
		return fmt.Errorf("fetching session windows: %w", err)
	}
	windows = filterSection(windows, mustGetInt(cmd, "section"))

	if mustGetBool(cmd, "json") {
		return outputJSON(windows)
	}
	if len(windows) == 0 {
		fmt.Println("No scheduled windows")
		return nil
	}
	printWindows(windows)

	now := time.Now().In(rt.location)
	for _, w := range windows {
		if w.Contains(now) {
			fmt.Printf("\nSection %d is in its window now\n", w.Section)
		}
	}
	return nil
}

func filterSection(windows []attendance.SessionWindow, section int) []attendance.SessionWindow {
	if section <= 0 {
		return windows
	}
	var out []attendance.SessionWindow
	for _, w := range windows {
		if w.Section == section {
			out = append(out, w)
		}
	}
	return out
}

func printWindows(windows []attendance.SessionWindow) {
	fmt.Printf("%-10s %-8s %-10s %s\n", "SUBJECT", "SECTION", "DAY", "TIME")
	for _, w := range windows {
		fmt.Printf("%-10s %-8d %-10s %s-%s\n", w.SubjectID, w.Section, w.Weekday, w.Start, w.End)
	}
}
