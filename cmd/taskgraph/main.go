// Command taskgraph manages a persistent task dependency graph shared by
// many processes.
package main

import (
	"os"

	"github.com/Iron-Ham/taskgraph/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
