package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/airc/media-ingest/internal/auth"
	"github.com/airc/media-ingest/internal/bootstrap"
	"github.com/airc/media-ingest/internal/ingest"
	"github.com/airc/media-ingest/internal/progress"
)

// errIngestFailed is returned when the pipeline ended with an error event.
var errIngestFailed = errors.New("ingest failed")

func newIngestCmd() *cobra.Command {
	var (
		folder       string
		resourceType string
		contentType  string
		operator     string
	)

	cmd := &cobra.Command{
		Use:   "ingest <file>",
		Short: "Run a local file through the upload pipeline",
		Long: "Compresses and stores a local file exactly as POST /api/upload would, " +
			"printing the progress stream as newline-delimited JSON.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// Logs go to stderr so stdout stays a clean NDJSON stream.
			logger := cfg.NewLogger()

			users := auth.StaticLookup{User: auth.User{ID: operator, Role: auth.RoleAdmin}}
			deps, err := bootstrap.NewDependencies(cmd.Context(), cfg, logger, users)
			if err != nil {
				return fmt.Errorf("initialize dependencies: %w", err)
			}

			var rec progress.Recorder
			em := progress.Tee{progress.NewEmitter(cmd.OutOrStdout(), logger), &rec}
			deps.Service.Ingest(cmd.Context(), ingest.LocalForm{
				Path:         args[0],
				ContentType:  contentType,
				Folder:       folder,
				ResourceType: resourceType,
			}, em)

			last, ok := rec.Last()
			if !ok || last.Error != "" {
				return fmt.Errorf("%w: %s", errIngestFailed, last.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "Target folder (default DEFAULT_FOLDER)")
	cmd.Flags().StringVar(&resourceType, "resource-type", "auto", "Resource type: auto, image, video or raw")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Declared MIME type (sniffed when empty)")
	cmd.Flags().StringVar(&operator, "operator", operatorName(), "User ID recorded for the upload")
	return cmd
}

func operatorName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "mediactl"
}
