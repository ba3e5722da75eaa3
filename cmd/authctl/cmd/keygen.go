package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/authd/pkg/token"
)

var (
	keygenAlg string
	keygenOut string
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an access token signing key",
	Long: `Generate a PKCS#8 PEM signing key for JWT_PRIVATE_KEY or JWT_KEY_FILE.
The key ID printed on stderr is the RFC 7638 thumbprint authd publishes when
JWT_KEY_ID is unset.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		signer, err := token.GenerateKey(strings.ToUpper(keygenAlg))
		if err != nil {
			return err
		}
		encoded, err := token.EncodePrivateKey(signer)
		if err != nil {
			return err
		}
		kid, err := token.Thumbprint(signer.Public())
		if err != nil {
			return err
		}

		if keygenOut == "" || keygenOut == "-" {
			if _, err := cmd.OutOrStdout().Write(encoded); err != nil {
				return err
			}
		} else if err := os.WriteFile(keygenOut, encoded, 0o600); err != nil {
			return fmt.Errorf("failed to write key: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "kid: %s\n", kid)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenAlg, "alg", token.AlgES256, "signing algorithm (RS256 or ES256)")
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "write the PEM to this file instead of stdout")
}
