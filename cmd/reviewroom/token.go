package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reviewroom/api/internal/auth"
	"reviewroom/api/internal/rbac"
)

// tokenCommand signs a development token with the configured secret so local
// clients can connect without an identity provider.
func tokenCommand() *cobra.Command {
	var name, role string
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFrom(cmd)
			userID := strings.TrimSpace(args[0])
			if name == "" {
				name = userID
			}
			verifier := auth.NewVerifier(cfg.JWTSecret, cfg.TokenTTL)
			token, expiresAt, err := verifier.Issue(auth.Identity{
				UserID: userID,
				Name:   name,
				Role:   string(rbac.Normalize(role)),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the user id)")
	cmd.Flags().StringVar(&role, "role", "participant", "role label carried in the token")
	return cmd
}
