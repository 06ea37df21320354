package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/airc/media-ingest/internal/bootstrap"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP upload server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			logger := cfg.NewLogger()
			slog.SetDefault(logger)
			logger.Info("starting media ingestion server",
				slog.Int("port", cfg.Port),
				slog.String("store_backend", cfg.Backend()),
			)

			return bootstrap.RunServer(cfg, logger)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "Port to listen on (overrides PORT)")
	return cmd
}
