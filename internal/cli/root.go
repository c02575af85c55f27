package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/stagecheck/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // suite file; empty selects the default suite
	Root    string // repository root; overrides the suite's root
	NoColor bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the stagecheck CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stagecheck",
		Short: "Differential tester for compiler stages",
		Long: `stagecheck runs a candidate and a reference implementation of each
compiler stage over the same corpus and compares their output file by file.

Without --config the stock layout is used: bin/new-<stage> against
bin/<stage>, corpora under tests/<stage>/end-to-end.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "suite definition (.yaml, .yml or .cue)")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", "", "repository root (default: suite root or working directory)")
	cmd.PersistentFlags().BoolVar(&opts.NoColor, "no-color", false, "disable colored output")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewStagesCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// singleDash lists flags accepted with one leading dash for compatibility
// with older test scripts.
var singleDash = map[string]string{
	"-build": "--build",
	"-asan":  "--asan",
	"-ubsan": "--ubsan",
}

// NormalizeArgs rewrites single-dash long flags such as -build to their
// double-dash form. Arguments after "--" are left alone.
func NormalizeArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i, a := range out {
		if a == "--" {
			break
		}
		if long, ok := singleDash[a]; ok {
			out[i] = long
		}
	}
	return out
}

// newLogger builds the process logger: text on w, Debug with --verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadSuite reads --config, or the default suite, and resolves it against
// --root.
func loadSuite(opts *RootOptions) (*config.Suite, error) {
	f := config.Default()
	if opts.Config != "" {
		var err error
		if f, err = config.Load(opts.Config); err != nil {
			return nil, err
		}
	}
	return f.Resolve(opts.Root)
}

// colorEnabled reports whether reporter output should carry ANSI colors.
func colorEnabled(opts *RootOptions) bool {
	if opts.NoColor || opts.Format == "json" {
		return false
	}
	_, noColor := os.LookupEnv("NO_COLOR")
	return !noColor
}
