// Command relgraph compiles mail models, applies server pushes to a
// journaled graph, and traces and replays the journal.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/relgraph/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
