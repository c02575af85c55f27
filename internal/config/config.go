// Package config loads suite definitions: which stages exist, how their
// candidate and reference pipelines are invoked, and which corpora they run.
//
// A suite is written in YAML or CUE. CUE files are checked against the
// embedded #Suite schema before decoding. Without a file, Default provides
// the layout of a stock compiler repository.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"

	"github.com/roach88/stagecheck/internal/compare"
	"github.com/roach88/stagecheck/internal/stage"
)

//go:embed schema.cue
var schemaSource []byte

// File is the on-disk form of a suite.
type File struct {
	Root           string      `yaml:"root,omitempty" json:"root,omitempty"`
	HaltOnFailure  *bool       `yaml:"halt_on_failure,omitempty" json:"halt_on_failure,omitempty"`
	IgnoreFailures string      `yaml:"ignore_failures,omitempty" json:"ignore_failures,omitempty"`
	Stages         []StageFile `yaml:"stages" json:"stages"`
}

// StageFile is one stage entry. Pipelines are lists of argv lists.
type StageFile struct {
	Name        string       `yaml:"name" json:"name"`
	Kind        string       `yaml:"kind" json:"kind"`
	Ext         string       `yaml:"ext,omitempty" json:"ext,omitempty"`
	Candidate   [][]string   `yaml:"candidate" json:"candidate"`
	Reference   [][]string   `yaml:"reference" json:"reference"`
	VM          []string     `yaml:"vm,omitempty" json:"vm,omitempty"`
	ArtifactExt string       `yaml:"artifact_ext,omitempty" json:"artifact_ext,omitempty"`
	Build       *BuildFile   `yaml:"build,omitempty" json:"build,omitempty"`
	Folders     []FolderFile `yaml:"folders" json:"folders"`
}

// BuildFile is the build recipe of a stage.
type BuildFile struct {
	Dir    string `yaml:"dir" json:"dir"`
	Target string `yaml:"target" json:"target"`
}

// FolderFile is one corpus directory.
type FolderFile struct {
	Dir    string   `yaml:"dir" json:"dir"`
	Ext    string   `yaml:"ext,omitempty" json:"ext,omitempty"`
	Label  string   `yaml:"label,omitempty" json:"label,omitempty"`
	Ignore []string `yaml:"ignore,omitempty" json:"ignore,omitempty"`
}

// Load reads a suite file, choosing the decoder by extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read suite: %w", err)
	}
	f, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	// A relative root is relative to the suite file.
	if f.Root != "" && !filepath.IsAbs(f.Root) {
		f.Root = filepath.Join(filepath.Dir(path), f.Root)
	}
	return f, nil
}

// Parse decodes data. name only selects the format and labels errors.
func Parse(name string, data []byte) (*File, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return parseYAML(data)
	case ".cue":
		return parseCUE(name, data)
	default:
		return nil, fmt.Errorf("suite %s: unsupported format %q (want .yaml, .yml or .cue)", name, filepath.Ext(name))
	}
}

func parseYAML(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("suite is empty")
		}
		return nil, fmt.Errorf("decode yaml suite: %w", err)
	}
	return &f, nil
}

func parseCUE(name string, data []byte) (*File, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile suite schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Suite"))

	v := ctx.CompileBytes(data, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var f File
	if err := unified.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode cue suite: %w", err)
	}
	return &f, nil
}

// formatCUEError prefixes the first CUE error with its position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		return fmt.Errorf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), first.Error())
	}
	return fmt.Errorf("cue: %w", err)
}

// Suite is a validated, path-resolved suite.
type Suite struct {
	Root          string
	HaltOnFailure bool
	IgnoreMode    compare.IgnoreMode
	Stages        []stage.Spec
}

// Resolve validates f and converts it to stage specs. root overrides the
// file's own root; when both are empty the working directory is used.
// Relative folder and build directories are joined to root, as are command
// paths that contain a separator. Bare command names are left for PATH
// lookup.
func (f *File) Resolve(root string) (*Suite, error) {
	if errs := Validate(f); len(errs) > 0 {
		return nil, errs
	}

	if root == "" {
		root = f.Root
	}
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	mode, err := compare.ParseIgnoreMode(f.IgnoreFailures)
	if err != nil {
		return nil, err
	}

	s := &Suite{Root: abs, HaltOnFailure: true, IgnoreMode: mode}
	if f.HaltOnFailure != nil {
		s.HaltOnFailure = *f.HaltOnFailure
	}

	for _, sf := range f.Stages {
		kind, _ := stage.ParseKind(sf.Kind) // checked by Validate
		spec := stage.Spec{
			Name:        sf.Name,
			Kind:        kind,
			Ext:         sf.Ext,
			Candidate:   pipeline(abs, sf.Candidate),
			Reference:   pipeline(abs, sf.Reference),
			ArtifactExt: sf.ArtifactExt,
		}
		if len(sf.VM) > 0 {
			vm := command(abs, sf.VM)
			spec.VM = &vm
		}
		if sf.Build != nil {
			spec.Build = stage.Build{Dir: join(abs, sf.Build.Dir), Target: sf.Build.Target}
		}
		for _, ff := range sf.Folders {
			spec.Folders = append(spec.Folders, stage.Folder{
				Dir:    join(abs, ff.Dir),
				Ext:    ff.Ext,
				Label:  ff.Label,
				Ignore: stage.NewIgnoreList(ff.Ignore...),
			})
		}
		s.Stages = append(s.Stages, spec)
	}
	return s, nil
}

// Select returns the named stages in the order given, or every stage when
// names is empty.
func (s *Suite) Select(names ...string) ([]stage.Spec, error) {
	if len(names) == 0 {
		out := make([]stage.Spec, len(s.Stages))
		for i, spec := range s.Stages {
			out[i] = spec.Clone()
		}
		return out, nil
	}

	byName := make(map[string]stage.Spec, len(s.Stages))
	for _, spec := range s.Stages {
		byName[spec.Name] = spec
	}
	out := make([]stage.Spec, 0, len(names))
	for _, n := range names {
		spec, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown stage %q: configured stages are %s", n, strings.Join(s.Names(), ", "))
		}
		out = append(out, spec.Clone())
	}
	return out, nil
}

// Names lists the stage names in suite order.
func (s *Suite) Names() []string {
	names := make([]string, len(s.Stages))
	for i, spec := range s.Stages {
		names[i] = spec.Name
	}
	return names
}

func pipeline(root string, argvs [][]string) stage.Pipeline {
	p := make(stage.Pipeline, len(argvs))
	for i, argv := range argvs {
		p[i] = command(root, argv)
	}
	return p
}

func command(root string, argv []string) stage.Command {
	c := stage.NewCommand(argv...)
	if strings.ContainsRune(c.Path, '/') {
		c.Path = join(root, c.Path)
	}
	return c
}

func join(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}
