package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"igsync/pkg/ui"
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Check and renew the official API token",
}

var tokenValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configured access token",
	Args:  cobra.NoArgs,
	RunE:  runTokenValidate,
}

var tokenExchangeCmd = &cobra.Command{
	Use:   "exchange <short-lived-token>",
	Short: "Swap a short-lived token for a long-lived one",
	Long: `Swap a short-lived Graph API token for a long-lived one (about 60 days).

Requires instagram.app_secret. Store the printed token as
instagram.access_token or IGSYNC_INSTAGRAM_ACCESS_TOKEN.`,
	Args: cobra.ExactArgs(1),
	RunE: runTokenExchange,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.AddCommand(tokenValidateCmd)
	tokenCmd.AddCommand(tokenExchangeCmd)
}

func runTokenValidate(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), nil, func(a *app) error {
		status, err := a.coord.ValidateCredential(cmd.Context())
		if err != nil {
			return err
		}
		printer.Block(ui.RenderToken(status))
		if !status.Valid {
			return errors.New("token is not valid")
		}
		return nil
	})
}

func runTokenExchange(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), nil, func(a *app) error {
		tok, err := a.coord.ExchangeCredential(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printer.Success("Token exchanged")
		printer.Info("Access token", tok.AccessToken)
		printer.Info("Expires at", tok.ExpiresAt.Local().Format(time.RFC1123))
		return nil
	})
}
