// Command tasksync inspects and drives a local tasksync store.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/tasksync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands write their own error output; only bare errors (flag
		// parsing, unknown commands) still need printing.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
