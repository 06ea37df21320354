// Package cli implements the mediactl command line tool.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/airc/media-ingest/internal/config"
)

// loadConfig is replaced in tests.
var loadConfig = config.Load

// NewRootCmd builds the mediactl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mediactl",
		Short: "AIRC media ingestion tools",
		Long: "Run the media ingestion server, push local files through the upload pipeline, " +
			"or mint development session tokens. Configuration is read from the environment.",
		SilenceUsage: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newIngestCmd())
	root.AddCommand(newTokenCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
