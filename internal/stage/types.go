package stage

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// InputPlaceholder is replaced by the input path when a command is expanded.
const InputPlaceholder = "{input}"

// Kind selects the comparison policy of a stage.
type Kind int

const (
	KindLexer Kind = iota
	KindParser
	KindSemantic
	KindCodegen
	KindE2E
)

var kindNames = map[Kind]string{
	KindLexer:    "lexer",
	KindParser:   "parser",
	KindSemantic: "semant",
	KindCodegen:  "codegen",
	KindE2E:      "e2e",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind converts a kind name ("lexer", "parser", "semant", "codegen",
// "e2e") to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown stage kind %q: must be one of %v", s, KindNames())
}

// KindNames returns the valid kind names in declaration order.
func KindNames() []string {
	names := make([]string, 0, len(kindNames))
	for k := KindLexer; k <= KindE2E; k++ {
		names = append(names, kindNames[k])
	}
	return names
}

// Command is a single argv template.
type Command struct {
	Path string
	Args []string
}

// NewCommand builds a command from an argv slice.
func NewCommand(argv ...string) Command {
	if len(argv) == 0 {
		return Command{}
	}
	return Command{Path: argv[0], Args: append([]string(nil), argv[1:]...)}
}

// ReadsStdin reports whether the command has no input placeholder and so
// consumes its input from stdin.
func (c Command) ReadsStdin() bool {
	for _, a := range c.Args {
		if strings.Contains(a, InputPlaceholder) {
			return false
		}
	}
	return true
}

// Expand returns a copy with every placeholder replaced by input.
func (c Command) Expand(input string) Command {
	out := Command{Path: c.Path, Args: make([]string, len(c.Args))}
	for i, a := range c.Args {
		out.Args[i] = strings.ReplaceAll(a, InputPlaceholder, input)
	}
	return out
}

// Argv returns path followed by the arguments.
func (c Command) Argv() []string {
	return append([]string{c.Path}, c.Args...)
}

func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// Pipeline is an ordered chain of commands. Command N's stdout is piped into
// command N+1's stdin; only the last command's output is observed.
type Pipeline []Command

// Executables returns the distinct executable paths, in order.
func (p Pipeline) Executables() []string {
	seen := make(map[string]bool, len(p))
	var paths []string
	for _, c := range p {
		if !seen[c.Path] {
			seen[c.Path] = true
			paths = append(paths, c.Path)
		}
	}
	return paths
}

func (p Pipeline) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.String()
	}
	return strings.Join(parts, " | ")
}

func (p Pipeline) clone() Pipeline {
	out := make(Pipeline, len(p))
	for i, c := range p {
		out[i] = Command{Path: c.Path, Args: append([]string(nil), c.Args...)}
	}
	return out
}

// IgnoreList is a set of input filenames whose pass condition is relaxed to
// "the candidate exits successfully".
type IgnoreList map[string]struct{}

// NewIgnoreList builds an ignore list from filenames.
func NewIgnoreList(names ...string) IgnoreList {
	l := make(IgnoreList, len(names))
	for _, n := range names {
		l[n] = struct{}{}
	}
	return l
}

// Contains reports whether name is listed. A nil list contains nothing.
func (l IgnoreList) Contains(name string) bool {
	_, ok := l[name]
	return ok
}

// Names returns the listed filenames sorted.
func (l IgnoreList) Names() []string {
	names := make([]string, 0, len(l))
	for n := range l {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Folder is one corpus directory of a stage.
type Folder struct {
	Dir    string
	Ext    string // e.g. ".test"
	Label  string // report header, e.g. "end-to-end"
	Ignore IgnoreList
}

// Build is the recipe for producing a candidate executable.
type Build struct {
	Dir    string // directory make runs in
	Target string // base make target, e.g. "lexer"
}

// Sanitizer selects the build variant.
type Sanitizer int

const (
	SanitizerNone Sanitizer = iota
	SanitizerAddress
	SanitizerUndefined
)

func (s Sanitizer) String() string {
	switch s {
	case SanitizerAddress:
		return "asan"
	case SanitizerUndefined:
		return "ubsan"
	default:
		return "none"
	}
}

// Target returns the make target for base under this variant.
//
//	SanitizerAddress.Target("lexer") == "lexer-asan"
func (s Sanitizer) Target(base string) string {
	if s == SanitizerNone {
		return base
	}
	return base + "-" + s.String()
}

// Spec identifies one pipeline stage.
type Spec struct {
	Name string
	Kind Kind
	Ext  string

	Candidate Pipeline
	Reference Pipeline

	// VM, when set, executes the artifact each compiler writes; comparison
	// then uses the VM's output. ArtifactExt names that artifact.
	VM          *Command
	ArtifactExt string

	Build   Build
	Folders []Folder
}

// Clone returns a deep copy so callers cannot mutate a shared spec.
func (s Spec) Clone() Spec {
	out := s
	out.Candidate = s.Candidate.clone()
	out.Reference = s.Reference.clone()
	if s.VM != nil {
		vm := Command{Path: s.VM.Path, Args: append([]string(nil), s.VM.Args...)}
		out.VM = &vm
	}
	out.Folders = make([]Folder, len(s.Folders))
	for i, f := range s.Folders {
		f.Ignore = NewIgnoreList(f.Ignore.Names()...)
		out.Folders[i] = f
	}
	return out
}

// Behavioral reports whether outputs are judged by executing an artifact.
func (s Spec) Behavioral() bool {
	return s.VM != nil
}

// CandidatePath is the executable the artifact resolver builds.
func (s Spec) CandidatePath() string {
	if len(s.Candidate) == 0 {
		return ""
	}
	return s.Candidate[0].Path
}

// ReferencePaths lists the reference executables, plus the VM.
func (s Spec) ReferencePaths() []string {
	paths := s.Reference.Executables()
	if s.VM != nil {
		paths = append(paths, s.VM.Path)
	}
	return paths
}

// ArtifactPath returns the artifact a behavioral stage writes for input.
//
//	tests/arith.cl -> tests/arith.s
func (s Spec) ArtifactPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + s.ArtifactExt
}

// FolderExt returns the extension a folder filters on.
func (s Spec) FolderExt(f Folder) string {
	if f.Ext != "" {
		return f.Ext
	}
	return s.Ext
}
