package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"attendancedesk/internal/academy"
	"attendancedesk/internal/attendance"
	"attendancedesk/internal/auth"
	"attendancedesk/internal/config"
	"attendancedesk/internal/export"
	"attendancedesk/internal/logger"
	"attendancedesk/internal/qrtoken"
)

type app struct {
	cfg     config.App
	baseURL string
	token   string
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Load()}
	root := &cobra.Command{
		Use:           "deskctl",
		Short:         "Resolve attendance rosters and mark students present",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&a.baseURL, "upstream", a.cfg.Upstream.BaseURL, "academy API base URL")
	root.PersistentFlags().StringVar(&a.token, "token", a.cfg.Upstream.Token, "academy bearer token")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		a.pendingCmd(),
		a.openCmd(),
		a.rosterCmd(),
		a.markCmd(),
		a.qrCmd(),
		a.exportCmd(),
	)
	root.AddCommand(a.directoryCmds()...)
	return root
}

func (a *app) logger() (*zap.Logger, error) {
	level := "warn"
	if a.verbose {
		level = "debug"
	}
	return logger.New(level, "console")
}

func (a *app) client() (*academy.Client, error) {
	zl, err := a.logger()
	if err != nil {
		return nil, err
	}
	client := academy.New(a.baseURL, a.cfg.Upstream.Timeout, auth.NewCredentials(a.token), zl)
	client.SkipNgrokWarning = a.cfg.Upstream.SkipNgrokWarning
	return client, nil
}

// desk builds a desk over a fresh client; the CLI never waits for notices to expire.
func (a *app) desk() (*attendance.Desk, error) {
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	zl, err := a.logger()
	if err != nil {
		return nil, err
	}
	return attendance.NewDesk(client, attendance.Options{
		FailOpen:         a.cfg.Attendance.FailOpen,
		ProbeConcurrency: a.cfg.Attendance.ProbeConcurrency,
	}, zl), nil
}

func (a *app) pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List lessons without an attendance session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := a.desk()
			if err != nil {
				return err
			}
			lessons, err := d.RefreshMissing(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLESSON")
			for _, l := range lessons {
				fmt.Fprintf(w, "%d\t%s\n", l.ID, l.Label())
			}
			return w.Flush()
		},
	}
}

func (a *app) openCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <lesson>",
		Short: "Open the attendance session of a lesson",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lessonID, err := parseID(args[0])
			if err != nil {
				return err
			}
			d, err := a.desk()
			if err != nil {
				return err
			}
			res, err := d.CreateSession(cmd.Context(), lessonID)
			printNotices(cmd.OutOrStdout(), d.View(""))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lesson %d: %d kept, %d dropped\n", res.LessonID, res.Kept, res.Dropped)
			return nil
		},
	}
}

func (a *app) rosterCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "roster <lesson>",
		Short: "Show a lesson's roster, opening the session when it has none",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.load(cmd, args[0])
			if err != nil {
				return err
			}
			snap := d.View(query)
			printNotices(cmd.OutOrStdout(), snap)
			printRoster(cmd.OutOrStdout(), snap.Roster)
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "q", "q", "", "filter by lesson id, student id or name")
	return cmd
}

func (a *app) markCmd() *cobra.Command {
	var recordID int64
	cmd := &cobra.Command{
		Use:   "mark <lesson> <student>",
		Short: "Mark a student present",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			studentID, err := parseID(args[1])
			if err != nil {
				return err
			}
			d, err := a.load(cmd, args[0])
			if err != nil {
				return err
			}
			snap := d.View("")
			res := d.MarkPresent(cmd.Context(), recordID, studentID, snap.LessonID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s", res.Outcome)
			if res.Detail != "" {
				fmt.Fprintf(cmd.OutOrStdout(), ": %s", res.Detail)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			if res.Outcome == attendance.OutcomeFailed {
				return fmt.Errorf("mark student %d failed", studentID)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&recordID, "record", 0, "expected attendance record id")
	return cmd
}

func (a *app) qrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qr <token>",
		Short: "Check a student QR credential and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claims, ok := qrtoken.Claims(args[0])
			if !ok {
				return fmt.Errorf("invalid qr code")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(claims)
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <lesson>",
		Short: "Write a lesson's roster to an xlsx file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.load(cmd, args[0])
			if err != nil {
				return err
			}
			snap := d.View("")
			lesson := academy.Lesson{ID: snap.LessonID}
			data, err := export.RosterXLSX(lesson, snap.Roster)
			if err != nil {
				return err
			}
			if out == "" {
				out = export.Filename(snap.LessonID)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d rows to %s\n", len(snap.Roster), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file")
	return cmd
}

// load selects the lesson and requires a ready roster.
func (a *app) load(cmd *cobra.Command, arg string) (*attendance.Desk, error) {
	lessonID, err := parseID(arg)
	if err != nil {
		return nil, err
	}
	d, err := a.desk()
	if err != nil {
		return nil, err
	}
	res, err := d.SelectLesson(cmd.Context(), lessonID)
	if err != nil {
		return nil, err
	}
	if res.State != attendance.RosterReady {
		return nil, fmt.Errorf("lesson %d: roster not available (%s)", lessonID, res.State)
	}
	return d, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func printNotices(w io.Writer, snap attendance.Snapshot) {
	for _, n := range snap.Notices {
		fmt.Fprintf(w, "[%s] %s\n", n.Level, n.Text)
	}
}

func printRoster(w io.Writer, recs []academy.AttendanceRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORD\tSTUDENT\tNAME\tSTATUS\tTIME")
	for _, r := range recs {
		var student, name, at string
		if r.StudentID != nil {
			student = strconv.FormatInt(*r.StudentID, 10)
		}
		if r.Student != nil {
			name = r.Student.Name
		}
		if r.AttendedAt != nil && !r.AttendedAt.IsZero() {
			at = r.AttendedAt.Format("15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.ID, student, name, r.Presence, at)
	}
	_ = tw.Flush()
}
