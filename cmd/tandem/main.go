// Command tandem runs plans through the sequence and queue engines.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/tandem/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
