package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/grainplan/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Formatted command errors were already written to stdout.
		// Wrapped and cobra errors were not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
