package cli

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/stagecheck/internal/stage"
)

// StageInfo describes one configured stage.
type StageInfo struct {
	Name             string   `json:"name"`
	Kind             string   `json:"kind"`
	Candidate        string   `json:"candidate"`
	Reference        string   `json:"reference"`
	VM               string   `json:"vm,omitempty"`
	Folders          []string `json:"folders"`
	CandidateBuilt   bool     `json:"candidate_built"`
	MissingReference []string `json:"missing_reference,omitempty"`
}

// NewStagesCommand creates the stages command.
func NewStagesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "stages",
		Short:         "List configured stages and whether their executables exist",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListStages(rootOpts, cmd)
		},
	}
}

func runListStages(opts *RootOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	suite, err := loadSuite(opts)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "load suite", err)
	}

	infos := make([]StageInfo, len(suite.Stages))
	for i, spec := range suite.Stages {
		infos[i] = describe(spec)
	}

	if formatter.json() {
		return formatter.Success(infos)
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Stage", "Kind", "Candidate", "Reference", "Built", "Missing"})
	for _, info := range infos {
		ref := info.Reference
		if info.VM != "" {
			ref += " => " + info.VM
		}
		tw.AppendRow(table.Row{info.Name, info.Kind, info.Candidate, ref, yesNo(info.CandidateBuilt), len(info.MissingReference)})
	}
	tw.Render()
	return nil
}

func describe(spec stage.Spec) StageInfo {
	info := StageInfo{
		Name:           spec.Name,
		Kind:           spec.Kind.String(),
		Candidate:      spec.Candidate.String(),
		Reference:      spec.Reference.String(),
		CandidateBuilt: fileExists(spec.CandidatePath()),
	}
	if spec.VM != nil {
		info.VM = spec.VM.String()
	}
	for _, f := range spec.Folders {
		info.Folders = append(info.Folders, f.Dir)
	}
	for _, ref := range spec.ReferencePaths() {
		if !fileExists(ref) {
			info.MissingReference = append(info.MissingReference, ref)
		}
	}
	return info
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
