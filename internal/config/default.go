package config

// Default returns the suite of a stock compiler repository: candidate
// binaries bin/new-<stage>, reference binaries bin/<stage>, sources under
// src/ and corpora under tests/<stage>/end-to-end.
func Default() *File {
	lexer := []string{"bin/lexer", "{input}"}
	return &File{
		Stages: []StageFile{
			{
				Name:      "lexer",
				Kind:      "lexer",
				Ext:       ".cool",
				Candidate: [][]string{{"bin/new-lexer", "{input}"}},
				Reference: [][]string{lexer},
				Build:     &BuildFile{Dir: "src/lexer", Target: "lexer"},
				Folders:   []FolderFile{{Dir: "tests/lexer/end-to-end"}},
			},
			{
				Name:      "parser",
				Kind:      "parser",
				Ext:       ".test",
				Candidate: [][]string{{"bin/new-parser", "{input}"}},
				Reference: [][]string{lexer, {"bin/parser"}},
				Build:     &BuildFile{Dir: "src/parser", Target: "parser"},
				Folders:   []FolderFile{{Dir: "tests/parser/end-to-end"}},
			},
			{
				Name:      "semant",
				Kind:      "semant",
				Ext:       ".test",
				Candidate: [][]string{{"bin/new-semant", "{input}"}},
				Reference: [][]string{lexer, {"bin/parser"}, {"bin/semant"}},
				Build:     &BuildFile{Dir: "src/semant", Target: "semant"},
				Folders: []FolderFile{
					{Dir: "tests/semant/end-to-end", Label: "end-to-end", Ignore: []string{"cycle.test"}},
					{Dir: "examples", Ext: ".cl", Label: "examples"},
				},
			},
			{
				Name:        "codegen",
				Kind:        "codegen",
				Ext:         ".cl",
				Candidate:   [][]string{{"bin/new-codegen", "{input}"}},
				Reference:   [][]string{{"bin/coolc", "-g", "{input}"}},
				VM:          []string{"bin/spim", "{input}"},
				ArtifactExt: ".s",
				Build:       &BuildFile{Dir: "src/codegen/stack_machine/mips/spim", Target: "codegen"},
				Folders:     []FolderFile{{Dir: "tests/codegen/end-to-end"}},
			},
		},
	}
}
