// Command stagecheck compares candidate compiler stages against reference
// implementations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/stagecheck/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.SetArgs(cli.NormalizeArgs(os.Args[1:]))

	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "stagecheck:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
