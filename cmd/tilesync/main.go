// Command tilesync keeps vector tile archives in sync with PostgreSQL
// change notifications.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/tilesync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// ExitErrors have already been reported by the command's formatter.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
