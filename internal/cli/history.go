package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/stagecheck/internal/history"
)

// HistoryOptions holds flags shared by the history subcommands.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// NewHistoryCommand creates the history command tree.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect runs recorded with run --db",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the history database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	list := &cobra.Command{
		Use:           "list",
		Short:         "List recorded runs, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(opts, cmd, func(st *history.Store, f *OutputFormatter) error {
				return historyList(opts, st, f, cmd)
			})
		},
	}
	list.Flags().IntVar(&opts.Limit, "limit", 20, "maximum runs to list, 0 for all")

	show := &cobra.Command{
		Use:           "show <run-id>",
		Short:         "Show the verdicts of one run",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(opts, cmd, func(st *history.Store, f *OutputFormatter) error {
				return historyShow(st, f, cmd, args[0])
			})
		},
	}

	diff := &cobra.Command{
		Use:   "diff <run-a> <run-b>",
		Short: "Report inputs whose verdict changed between two runs",
		Long: `Compare two recorded runs input by input. Exits 1 when any verdict,
exit code or stdout differs, so the command doubles as a determinism check.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistory(opts, cmd, func(st *history.Store, f *OutputFormatter) error {
				return historyDiff(st, f, cmd, args[0], args[1])
			})
		},
	}

	cmd.AddCommand(list, show, diff)
	return cmd
}

func withHistory(opts *HistoryOptions, cmd *cobra.Command, fn func(*history.Store, *OutputFormatter) error) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if !fileExists(opts.Database) {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("history database not found: %s", opts.Database), nil)
	}
	st, err := history.Open(opts.Database)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeHistory, "open history", err)
	}
	defer st.Close()
	return fn(st, formatter)
}

func historyList(opts *HistoryOptions, st *history.Store, f *OutputFormatter, cmd *cobra.Command) error {
	runs, err := st.ListRuns(cmd.Context(), opts.Limit)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeHistory, "list runs", err)
	}
	if f.json() {
		return f.Success(runs)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(f.Writer)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Run", "Started", "Stages", "Status", "Fingerprint"})
	for _, r := range runs {
		tw.AppendRow(table.Row{r.ID, humanize.Time(r.StartedAt), strings.Join(r.Stages, ","), r.Status, shortHash(r.Fingerprint)})
	}
	tw.Render()
	return nil
}

// ShowResult is the JSON payload of history show.
type ShowResult struct {
	Run      history.Run      `json:"run"`
	Verdicts []history.Record `json:"verdicts"`
}

func historyShow(st *history.Store, f *OutputFormatter, cmd *cobra.Command, id string) error {
	run, err := st.GetRun(cmd.Context(), id)
	if errors.Is(err, history.ErrRunNotFound) {
		return f.fail(ExitCommandError, ErrCodeNotFound, "show run", err)
	}
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeHistory, "show run", err)
	}
	records, err := st.Verdicts(cmd.Context(), id)
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeHistory, "show run", err)
	}
	if f.json() {
		return f.Success(ShowResult{Run: run, Verdicts: records})
	}

	fmt.Fprintf(f.Writer, "Run %s (%s)\n", run.ID, run.Status)
	fmt.Fprintf(f.Writer, "Root: %s\n", run.Root)
	fmt.Fprintf(f.Writer, "Started: %s\n", run.StartedAt.Format(time.RFC3339))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(f.Writer, "Took: %s\n", run.FinishedAt.Sub(run.StartedAt))
	}
	fmt.Fprintf(f.Writer, "Fingerprint: %s\n\n", run.Fingerprint)

	tw := table.NewWriter()
	tw.SetOutputMirror(f.Writer)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"#", "Stage", "Folder", "Input", "Status", "Exit", "Reason"})
	for _, r := range records {
		tw.AppendRow(table.Row{r.Seq, r.Stage, r.Folder, r.Input, r.Status,
			fmt.Sprintf("%d/%d", r.CandidateExit, r.ReferenceExit), r.Reason})
	}
	tw.Render()
	return nil
}

// DiffResult is the JSON payload of history diff.
type DiffResult struct {
	Before    string          `json:"before"`
	After     string          `json:"after"`
	Identical bool            `json:"identical"`
	Drifts    []history.Drift `json:"drifts"`
}

func historyDiff(st *history.Store, f *OutputFormatter, cmd *cobra.Command, a, b string) error {
	drifts, err := st.DiffRuns(cmd.Context(), a, b)
	if errors.Is(err, history.ErrRunNotFound) {
		return f.fail(ExitCommandError, ErrCodeNotFound, "diff runs", err)
	}
	if err != nil {
		return f.fail(ExitCommandError, ErrCodeHistory, "diff runs", err)
	}

	result := DiffResult{Before: a, After: b, Identical: len(drifts) == 0, Drifts: drifts}
	msg := fmt.Sprintf("%d input(s) drifted between %s and %s", len(drifts), a, b)

	if f.json() {
		if result.Identical {
			return f.Success(result)
		}
		if err := f.Failure(ErrCodeDrift, msg, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	if result.Identical {
		fmt.Fprintf(f.Writer, "✓ Runs %s and %s agree\n", a, b)
		return nil
	}
	fmt.Fprintf(f.Writer, "✗ %s\n\n", msg)
	for _, d := range drifts {
		change := fmt.Sprintf("%s -> %s", orAbsent(d.Before), orAbsent(d.After))
		if d.Output {
			change += " (output changed)"
		}
		fmt.Fprintf(f.Writer, "  %s/%s/%s: %s\n", d.Stage, d.Folder, d.Input, change)
	}
	return NewExitError(ExitFailure, msg)
}

func orAbsent(s string) string {
	if s == "" {
		return "absent"
	}
	return s
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
