// Package main provides the entry point for the mediactl command line tool.
package main

import (
	"fmt"
	"os"

	"github.com/airc/media-ingest/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
