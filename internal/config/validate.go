package config

import (
	"fmt"
	"strings"

	"github.com/roach88/stagecheck/internal/compare"
	"github.com/roach88/stagecheck/internal/stage"
)

// Validation error codes.
const (
	ErrNoStages       = "E101" // suite defines no stages
	ErrMissingField   = "E102" // required field empty
	ErrDuplicateStage = "E103" // stage name used twice
	ErrInvalidKind    = "E104" // unknown stage kind
	ErrEmptyCommand   = "E105" // argv list with no program
	ErrMissingExt     = "E106" // folder has no extension to filter on
	ErrInvalidVM      = "E107" // vm without artifact_ext or the reverse
	ErrInvalidIgnore  = "E108" // unknown ignore_failures mode
	ErrBadPlaceholder = "E109" // placeholder outside the first command
	ErrVMNoInput      = "E110" // vm command never receives the artifact
)

// ValidationError is one problem found in a suite.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is every problem found in one suite.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.Error()
	}
	return fmt.Sprintf("invalid suite (%d problems): %s", len(e), strings.Join(msgs, "; "))
}

// Validate checks f and returns all problems found.
func Validate(f *File) ValidationErrors {
	var errs ValidationErrors
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := compare.ParseIgnoreMode(f.IgnoreFailures); err != nil {
		add("ignore_failures", ErrInvalidIgnore, "%v", err)
	}
	if len(f.Stages) == 0 {
		add("stages", ErrNoStages, "at least one stage is required")
	}

	names := make(map[string]bool, len(f.Stages))
	for i, s := range f.Stages {
		path := fmt.Sprintf("stages[%d]", i)

		if strings.TrimSpace(s.Name) == "" {
			add(path+".name", ErrMissingField, "name is required")
		} else if names[s.Name] {
			add(path+".name", ErrDuplicateStage, "duplicate stage name %q", s.Name)
		}
		names[s.Name] = true

		if _, err := stage.ParseKind(s.Kind); err != nil {
			add(path+".kind", ErrInvalidKind, "%v", err)
		}

		validatePipeline(path+".candidate", s.Candidate, add)
		validatePipeline(path+".reference", s.Reference, add)

		switch {
		case len(s.VM) > 0 && s.ArtifactExt == "":
			add(path+".artifact_ext", ErrInvalidVM, "artifact_ext is required when vm is set")
		case len(s.VM) == 0 && s.ArtifactExt != "":
			add(path+".vm", ErrInvalidVM, "vm is required when artifact_ext is set")
		}
		if len(s.VM) > 0 {
			if s.VM[0] == "" {
				add(path+".vm", ErrEmptyCommand, "vm program is empty")
			}
			if stage.NewCommand(s.VM...).ReadsStdin() {
				add(path+".vm", ErrVMNoInput, "vm arguments must contain %s", stage.InputPlaceholder)
			}
		}

		if s.Build != nil && strings.TrimSpace(s.Build.Target) == "" {
			add(path+".build.target", ErrMissingField, "build target is required")
		}

		if len(s.Folders) == 0 {
			add(path+".folders", ErrMissingField, "at least one folder is required")
		}
		for j, fo := range s.Folders {
			fpath := fmt.Sprintf("%s.folders[%d]", path, j)
			if strings.TrimSpace(fo.Dir) == "" {
				add(fpath+".dir", ErrMissingField, "dir is required")
			}
			if fo.Ext == "" && s.Ext == "" {
				add(fpath+".ext", ErrMissingExt, "no ext on the folder or its stage")
			}
		}
	}
	return errs
}

// validatePipeline checks one chain. Only the first command may receive the
// input path; later commands read the previous command's output.
func validatePipeline(path string, argvs [][]string, add func(field, code, format string, args ...any)) {
	if len(argvs) == 0 {
		add(path, ErrMissingField, "at least one command is required")
		return
	}
	for i, argv := range argvs {
		field := fmt.Sprintf("%s[%d]", path, i)
		if len(argv) == 0 || argv[0] == "" {
			add(field, ErrEmptyCommand, "command has no program")
			continue
		}
		if i > 0 && !stage.NewCommand(argv...).ReadsStdin() {
			add(field, ErrBadPlaceholder, "only the first command of a chain may use %s", stage.InputPlaceholder)
		}
	}
}
