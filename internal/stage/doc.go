// Package stage describes the compiler stages the harness validates.
//
// This package contains type definitions only. The runner, comparator and
// driver import stage; stage imports nothing internal.
//
// A stage is described by two pipelines, one for the candidate and one for
// the reference implementation. Each pipeline is an ordered list of argv
// templates; the stdout of command N feeds the stdin of command N+1:
//
//	reference:
//	  - [bin/lexer, "{input}"]
//	  - [bin/parser]
//	  - [bin/semant]
//
// A command containing the {input} placeholder is given the input file path.
// A command without it reads its input from stdin.
//
// Stages whose output is judged by behavior rather than text (code
// generation) also carry a virtual machine command and the extension of the
// artifact the compiler writes next to its input.
package stage
