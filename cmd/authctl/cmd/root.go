package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "authd operator CLI",
	Long: `authctl runs schema migrations, generates signing keys, inspects a running
authd through its discovery document and verifies access tokens against the
published key set.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AUTHD_URL", "http://localhost:8080"), "authd base URL (also set via AUTHD_URL)")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(usersCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
