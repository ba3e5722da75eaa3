package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/authd/pkg/discovery"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Fetch the discovery document",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resolver, err := discovery.NewResolver(discovery.Config{
			BaseURL: serverURL,
			Mode:    discovery.ModeAlways,
			Timeout: discoverTimeout,
		})
		if err != nil {
			return err
		}
		doc, err := resolver.Resolve(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to discover %s: %w", serverURL, err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Second, "request timeout")
}
