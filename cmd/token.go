package cmd

import (
	"fmt"

	"github.com/jmehdipour/crm-gateway/internal/auth"
	"github.com/jmehdipour/crm-gateway/internal/config"
	"github.com/spf13/cobra"
)

var (
	tokenEmail string
	tokenName  string
	tokenRole  string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a session JWT for an operator",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		m := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TTL)
		tok, err := m.Issue(tokenEmail, tokenName, tokenRole)
		if err != nil {
			return fmt.Errorf("issue token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "operator email (recorded as the actor)")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", "staff", "role claim")
	_ = tokenCmd.MarkFlagRequired("email")
}
