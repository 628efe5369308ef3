// Package main provides the bizctl CLI: a terminal client for the BizLens
// consulting server.
package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bizlens/bizlens/internal/client"
	"github.com/bizlens/bizlens/internal/identity"
)

var (
	serverURL  string
	ownerToken string
)

func main() {
	// .env is optional; flags and environment still win.
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "bizctl",
		Short: "BizLens - terminal client for the consulting canvas",
		Long: `bizctl talks to a BizLens server: run consulting chats, browse
sessions, and edit the business canvas from the terminal.

The anonymous identity (--anon) scopes everything you see. Keep the same
token across runs to keep your sessions.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if ownerToken == "" {
				ownerToken = os.Getenv("BIZLENS_ANON_ID")
			}
			if ownerToken == "" {
				ownerToken = "anon_" + uuid.NewString()
				fmt.Fprintf(os.Stderr, "generated identity %s (set BIZLENS_ANON_ID to keep it)\n", ownerToken)
			}
			if !identity.IsValidOwnerToken(ownerToken) {
				return fmt.Errorf("malformed identity token %q", ownerToken)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("BIZLENS_SERVER", "http://localhost:8080"), "BizLens server URL")
	rootCmd.PersistentFlags().StringVar(&ownerToken, "anon", "", "anonymous identity token (default $BIZLENS_ANON_ID)")

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(canvasCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newClient() (*client.Client, error) {
	return client.New(serverURL, ownerToken, nil)
}
