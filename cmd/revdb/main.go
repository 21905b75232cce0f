// Command revdb inspects and maintains revdb database bundles.
package main

import (
	"fmt"
	"os"

	"github.com/andreyvit/revdb/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "revdb:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
