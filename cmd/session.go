package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/reconcile"
	"github.com/kozaktomas/rollcall/internal/session"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Attendance session commands",
}

var sessionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one attendance session in the terminal",
	Long: `Open a session for a subject section and date, start it and take attendance
until "end" is typed, the duration elapses or the process is interrupted.

While the session runs, each input line marks a student by hand:
  <student id or full name> <present|absent|excused>

Examples:
  # Start inside the scheduled window and run for 45 minutes
  rollcall session run --subject MATH101 --section 2 --duration 45m

  # Make up a lesson outside the timetable
  rollcall session run --subject MATH101 --section 2 --date 2026-10-12 --force`,
	RunE: runSessionRun,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionRunCmd)

	sessionRunCmd.Flags().String("subject", "", "Subject ID (required)")
	sessionRunCmd.Flags().Int("section", 1, "Section number")
	sessionRunCmd.Flags().String("date", "", "Session date YYYY-MM-DD (default today)")
	sessionRunCmd.Flags().Bool("force", false, "Start even outside the scheduled windows")
	sessionRunCmd.Flags().Duration("duration", 0, "End automatically after this long (0 = wait for \"end\")")
	sessionRunCmd.Flags().Int("flush-retries", 3, "Attempts to store attendance when ending fails")
	_ = sessionRunCmd.MarkFlagRequired("subject")
}

func runSessionRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := setupRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	date := mustGetString(cmd, "date")
	if date == "" {
		date = time.Now().In(rt.location).Format(attendance.DateLayout)
	}
	key := attendance.SessionKey{
		SubjectID: mustGetString(cmd, "subject"),
		Section:   mustGetInt(cmd, "section"),
		Date:      date,
	}

	deps, opts, err := rt.sessionDeps(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Opening session %s...\n", key)
	s, err := session.Open(ctx, key, deps, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	events := s.Events().AddListener()
	defer s.Events().RemoveListener(events)
	go printEvents(events)

	report, err := s.Start(ctx, mustGetBool(cmd, "force"))
	if err != nil {
		if errors.Is(err, attendance.ErrOutsideScheduledWindow) {
			printWindows(s.Windows())
			return fmt.Errorf("%w (use --force to start anyway)", err)
		}
		return err
	}
	for _, w := range report.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	if report.AutoCapture {
		fmt.Println("Camera capture running")
	} else {
		fmt.Println("Manual marking only")
	}
	fmt.Println(`Type "<student> <status>" to mark, "end" to finish`)

	waitForEnd(ctx, os.Stdin, mustGetDuration(cmd, "duration"), func(line string) error {
		return applyMarkLine(ctx, s, line)
	})

	endReport, err := endWithRetry(ctx, s, mustGetInt(cmd, "flush-retries"))
	printSummary(ctx, s)
	if err != nil {
		return err
	}
	fmt.Printf("Session ended: %d marked absent, %d records stored\n", endReport.Finalized, endReport.Flush.Sent)
	return nil
}

// waitForEnd passes input lines to mark until "end", the duration or a
// signal. Without a duration, EOF also ends the wait; with one, input may
// close early and the timer still decides.
func waitForEnd(ctx context.Context, input io.Reader, duration time.Duration, mark func(line string) error) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(input)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigChan:
			fmt.Println("\nInterrupted, ending session...")
			return
		case <-timeout:
			fmt.Println("Duration elapsed, ending session...")
			return
		case line, ok := <-lines:
			if !ok {
				if timeout == nil {
					return
				}
				lines = nil
				continue
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if strings.EqualFold(line, "end") {
				return
			}
			if err := mark(line); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}

// parseMarkLine splits "<student> <status>"; the student may contain spaces.
func parseMarkLine(line string) (string, attendance.Status, error) {
	idx := strings.LastIndexAny(line, " \t")
	if idx < 0 {
		return "", "", fmt.Errorf("expected \"<student> <status>\", got %q", line)
	}
	student := strings.TrimSpace(line[:idx])
	if student == "" {
		return "", "", fmt.Errorf("missing student in %q", line)
	}
	status, err := attendance.ParseStatus(line[idx+1:])
	if err != nil {
		return "", "", err
	}
	return student, status, nil
}

func applyMarkLine(ctx context.Context, s *session.Session, line string) error {
	query, status, err := parseMarkLine(line)
	if err != nil {
		return err
	}
	st, ok := s.ResolveStudent(query)
	if !ok {
		return fmt.Errorf("no single enrolled student matches %q", query)
	}
	_, err = s.ManualMark(ctx, st.StudentID, status)
	return err
}

// endWithRetry ends the session and retries the final flush while it fails.
func endWithRetry(ctx context.Context, s *session.Session, retries int) (session.EndReport, error) {
	report, err := s.End(ctx)
	var pf *attendance.PersistenceFailure
	for attempt := 1; errors.As(err, &pf) && attempt <= retries; attempt++ {
		wait := time.Duration(attempt) * 2 * time.Second
		fmt.Printf("Storing attendance failed (%d pending): %v; retrying in %s\n", pf.Pending, pf.Err, wait)
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(wait):
		}
		report.Flush, err = s.RetryFlush(ctx)
	}
	return report, err
}

func printEvents(events <-chan session.Event) {
	for ev := range events {
		switch ev.Type {
		case session.EventStatus:
			if c, ok := ev.Data.(reconcile.Change); ok {
				fmt.Printf("  %s: %s -> %s (%s)\n", c.StudentID, c.From, c.To, c.Origin)
			}
		case session.EventCapture:
			fmt.Printf("Camera stopped: %s\n", ev.Message)
		case session.EventSync:
			if ev.Message != "" {
				fmt.Printf("Sync failed: %s\n", ev.Message)
			}
		}
	}
}

func printSummary(ctx context.Context, s *session.Session) {
	sum, err := s.Summary(ctx)
	if err != nil {
		return
	}
	fmt.Printf("\n%-12s %-30s %s\n", "ID", "NAME", "STATUS")
	for _, st := range sum.Students {
		fmt.Printf("%-12s %-30s %s\n", st.StudentID, st.DisplayName, st.Status)
	}
	fmt.Printf("\nPresent: %d  Absent: %d  Excused: %d  Unset: %d\n",
		sum.Counts[attendance.StatusPresent], sum.Counts[attendance.StatusAbsent],
		sum.Counts[attendance.StatusExcused], sum.Counts[attendance.StatusUnset])
	if len(sum.Pending) > 0 {
		fmt.Printf("%d records could not be stored\n", len(sum.Pending))
	}
}
