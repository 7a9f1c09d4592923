package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/database"
)

var descriptorsCmd = &cobra.Command{
	Use:   "descriptors",
	Short: "Reference descriptor commands",
}

var descriptorsBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Compute reference descriptors for a section ahead of a lesson",
	Long: `Resolve the reference image of every enrolled student, compute its face
descriptor and store it in the PostgreSQL descriptor cache, so that starting
a session does not wait for the embedding server.

Without DATABASE_URL nothing is cached and the command only reports which
students have a usable reference.

Examples:
  rollcall descriptors build --subject MATH101 --section 2
  rollcall descriptors build --subject MATH101 --section 2 --json`,
	RunE: runDescriptorsBuild,
}

func init() {
	rootCmd.AddCommand(descriptorsCmd)
	descriptorsCmd.AddCommand(descriptorsBuildCmd)

	descriptorsBuildCmd.Flags().String("subject", "", "Subject ID (required)")
	descriptorsBuildCmd.Flags().Int("section", 1, "Section number")
	descriptorsBuildCmd.Flags().Bool("json", false, "Output as JSON")
	_ = descriptorsBuildCmd.MarkFlagRequired("subject")
}

// DescriptorsBuildResult represents the result of a descriptors build
type DescriptorsBuildResult struct {
	Students      int               `json:"students"`
	Descriptors   int               `json:"descriptors"`
	NoReference   []string          `json:"no_reference,omitempty"`
	Failures      map[string]string `json:"failures,omitempty"`
	Cached        int               `json:"cached"`
	DurationMs    int64             `json:"duration_ms"`
	DurationHuman string            `json:"duration_human,omitempty"`
}

func runDescriptorsBuild(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	subject := mustGetString(cmd, "subject")
	section := mustGetInt(cmd, "section")

	ctx := context.Background()
	startTime := time.Now()

	rt, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	date := time.Now().In(rt.location).Format(attendance.DateLayout)
	roster, err := rt.collab.FetchRoster(ctx, subject, section, date)
	if err != nil {
		return fmt.Errorf("fetching roster: %w", err)
	}
	if len(roster.Students) == 0 {
		return errors.New("no students enrolled in this section")
	}

	var (
		bar     *progressbar.ProgressBar
		barOnce sync.Once
	)
	onProgress := func(done, total int) {
		if jsonOutput {
			return
		}
		barOnce.Do(func() {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("Computing descriptors"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("students"),
				progressbar.OptionShowElapsedTimeOnFinish(),
				progressbar.OptionSetPredictTime(true),
				progressbar.OptionFullWidth(),
			)
		})
		_ = bar.Set(done)
	}

	store, err := rt.descriptorStore(ctx, onProgress)
	if err != nil {
		return err
	}
	set, err := store.Load(ctx, roster.Students)
	if err != nil {
		return err
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}

	result := DescriptorsBuildResult{
		Students:    len(roster.Students),
		Descriptors: set.Len(),
		NoReference: set.NoReference(),
	}
	if failures := set.Failures(); len(failures) > 0 {
		result.Failures = make(map[string]string, len(failures))
		for _, f := range failures {
			result.Failures[f.StudentID] = f.Err.Error()
		}
	}
	if counter, ok := database.GetDescriptorCache(ctx).(database.DescriptorCounter); ok {
		if result.Cached, err = counter.CountDescriptors(ctx); err != nil {
			return err
		}
	}
	duration := time.Since(startTime)
	result.DurationMs = duration.Milliseconds()
	result.DurationHuman = duration.Round(time.Millisecond).String()

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("Students:    %d\n", result.Students)
	fmt.Printf("Descriptors: %d\n", result.Descriptors)
	if len(result.NoReference) > 0 {
		fmt.Printf("No reference image: %v\n", result.NoReference)
	}
	for id, msg := range result.Failures {
		fmt.Printf("  %s: %s\n", id, msg)
	}
	if result.Cached > 0 {
		fmt.Printf("Cached descriptors (all sections): %d\n", result.Cached)
	}
	fmt.Printf("Done in %s\n", result.DurationHuman)
	return nil
}
