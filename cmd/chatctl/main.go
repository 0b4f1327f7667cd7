// cmd/chatctl/main.go
// Command-line chat client built on the conversation synchronizer

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/imadgeboyega/kiekky-chat/internal/chatsync"
	"github.com/imadgeboyega/kiekky-chat/internal/config"
)

var (
	apiURL  string
	wsURL   string
	token   string
	userID  string
	verbose bool

	clientCfg *config.ClientConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Chat client for the kiekky gateway",
	Long: `chatctl talks to the chat gateway over REST and the websocket event
stream. Connection settings come from flags or the CHAT_* environment keys.`,
	SilenceUsage: true,
}

func main() {
	_ = godotenv.Load()
	clientCfg = config.LoadClient()

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", clientCfg.APIURL, "gateway base URL")
	rootCmd.PersistentFlags().StringVar(&wsURL, "ws", clientCfg.WSURL, "gateway websocket URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", clientCfg.Token, "access token")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "acting user id (default: read from the token)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(tokenCmd, conversationsCmd, sendCmd, searchCmd, tailCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// tokenSubject reads the user id from an access token without verifying
// it; the gateway does the verification.
func tokenSubject(raw string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	for _, key := range []string{"user_id", "sub"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", errors.New("token carries no user id")
}

func requireToken() error {
	if token == "" {
		return errors.New("no access token: pass --token or set CHAT_TOKEN")
	}
	if userID == "" {
		id, err := tokenSubject(token)
		if err != nil {
			return err
		}
		userID = id
	}
	return nil
}

// newSynchronizer builds a REST-only synchronizer, or one backed by the
// websocket stream when stream is non-nil.
func newSynchronizer(stream chatsync.Stream, onChange func(chatsync.Change)) *chatsync.Synchronizer {
	return chatsync.New(userID, chatsync.NewRESTClient(apiURL, token), stream, chatsync.Config{
		Logger:        newLogger(),
		TypingTimeout: clientCfg.TypingTimeout,
		SendTimeout:   clientCfg.SendTimeout,
		OnChange:      onChange,
	})
}
