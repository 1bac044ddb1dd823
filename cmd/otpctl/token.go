package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smsbra/otp-api/internal/config"
	"github.com/smsbra/otp-api/internal/pkg/jwt"
)

func newTokenCmd(load func() *config.Config) *cobra.Command {
	var (
		accountID string
		role      string
		ttl       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(accountID)
			if err != nil {
				return fmt.Errorf("invalid --account %q: %w", accountID, err)
			}
			if role != jwt.RoleUser && role != jwt.RoleAdmin {
				return fmt.Errorf("invalid --role %q: must be %q or %q", role, jwt.RoleUser, jwt.RoleAdmin)
			}

			cfg := load()
			if ttl <= 0 {
				ttl = cfg.JWTAccessTTL
			}
			token, err := jwt.NewService(cfg.JWTSecret, ttl).GenerateAccessToken(id, role)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "account id (required)")
	cmd.Flags().StringVar(&role, "role", jwt.RoleUser, "token role: user|admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default JWT_ACCESS_TTL)")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}
