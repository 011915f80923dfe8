// Engram - semantic memory engine
// Local-first capture with automatic dedup and ambient recall
package main

import (
	"fmt"
	"os"

	"github.com/engramhq/engram/cmd"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cmd.SetVersion(version, commit, date)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
