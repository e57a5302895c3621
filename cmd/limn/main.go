package main

import (
	"fmt"
	"os"

	"github.com/roach88/limn/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands silence cobra's own error printing so JSON output
		// stays clean; report here and exit with the command's code.
		fmt.Fprintf(os.Stderr, "limn: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
