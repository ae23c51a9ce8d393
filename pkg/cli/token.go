package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpwire/mcpd/pkg/auth"
)

var tokenFlagVals tokenFlags

type tokenFlags struct {
	secret  string
	subject string
	ttl     time.Duration
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP and WebSocket surfaces",
	Example: `  mcpd token --secret $MCPD_AUTH_SECRET --subject ci-runner
  mcpd call list-tools --address ws://host:7451/rpc --token $(mcpd token ...)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		secret := tokenFlagVals.secret
		if secret == "" {
			secret = cfg.Auth.Secret
		}
		if secret == "" {
			return errors.New("a signing secret is required (--secret or auth.secret in the config file)")
		}

		v := auth.NewVerifier([]byte(secret), cfg.Auth.Issuer)
		token, err := v.Mint(tokenFlagVals.subject, tokenFlagVals.ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenFlagVals.secret, "secret", "", "Signing secret (defaults to auth.secret from the config file)")
	tokenCmd.Flags().StringVar(&tokenFlagVals.subject, "subject", "", "Token subject")
	tokenCmd.Flags().DurationVar(&tokenFlagVals.ttl, "ttl", time.Hour, "Token lifetime")
}
