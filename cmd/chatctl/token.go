// cmd/chatctl/token.go

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/imadgeboyega/kiekky-chat/internal/auth"
)

var (
	tokenUsername string
	tokenEmail    string
	tokenSecret   string
	tokenTTL      time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Mint a development access token",
	Long: `Signs an access token with the gateway secret (JWT_SECRET by default).
Intended for local development against a gateway you control.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tokenSecret == "" {
			return errors.New("no signing secret: pass --secret or set JWT_SECRET")
		}
		username := tokenUsername
		if username == "" {
			username = args[0]
		}

		signed, err := auth.NewTokenService(tokenSecret, tokenTTL).IssueAccessToken(args[0], username, tokenEmail)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), signed)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUsername, "username", "", "display username (default: the user id)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email used for offline notices")
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", os.Getenv("JWT_SECRET"), "HS256 signing secret")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
