// Command modacct manages modular accounts from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/modacct/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil && !cli.IsReported(err) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
