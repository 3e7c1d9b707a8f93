// Command hubstore merges, inspects and prunes a local message store.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/hubstore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
