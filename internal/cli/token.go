package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/airc/media-ingest/internal/auth"
)

func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		role   string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development session token",
		Long:  "Signs a session token with AUTH_JWT_SECRET for use as a Bearer token or session cookie.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			tok, err := auth.Issue([]byte(cfg.JWTSecret), auth.User{ID: userID, Email: email, Role: role}, ttl)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}

	cmd.Flags().StringVar(&userID, "user", "", "User ID (token subject)")
	cmd.Flags().StringVar(&email, "email", "", "User email")
	cmd.Flags().StringVar(&role, "role", auth.RoleEngineer, "Role: admin or engineer")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
