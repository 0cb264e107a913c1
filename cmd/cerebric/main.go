// Command cerebric is the control CLI for the cerebricd supervisor.
package main

import (
	"fmt"
	"os"

	"github.com/cerebric/cerebric/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
