// Command loopbridge runs notification scenarios against the store, host
// loop, and scheduler.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/loopbridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
