package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/authd/pkg/discovery"
	"github.com/noah-isme/authd/pkg/token"
)

var (
	verifyIssuer   string
	verifyAudience string
	verifyJWKSURL  string
	verifyLeeway   time.Duration
	verifyMode     string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Inspect access tokens",
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <access-token>",
	Short: "Verify an access token against the published key set",
	Long: `Verify checks signature, issuer, audience and expiry. Values not given as
flags come from the discovery document; --discovery=never uses flags only.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := discovery.ParseMode(verifyMode)
		if err != nil {
			return err
		}
		resolver, err := discovery.NewResolver(discovery.Config{
			BaseURL: serverURL,
			Mode:    mode,
			Static: discovery.Document{
				Issuer:   verifyIssuer,
				Audience: verifyAudience,
				JWKSURI:  verifyJWKSURL,
			},
		})
		if err != nil {
			return err
		}
		doc, err := resolver.Resolve(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to discover %s: %w", serverURL, err)
		}

		issuer := firstNonEmpty(verifyIssuer, doc.Issuer)
		audience := firstNonEmpty(verifyAudience, doc.Audience)
		jwksURL := firstNonEmpty(verifyJWKSURL, doc.JWKSURI, strings.TrimSuffix(serverURL, "/")+"/.well-known/jwks.json")
		if issuer == "" || audience == "" {
			return fmt.Errorf("issuer and audience are required")
		}

		verifier := token.NewVerifier(token.NewRemoteKeySet(token.RemoteKeySetConfig{URL: jwksURL}), token.VerifierConfig{
			Issuer:   issuer,
			Audience: audience,
			Leeway:   verifyLeeway,
		})
		claims, err := verifier.Verify(cmd.Context(), strings.TrimSpace(args[0]))
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(claims)
	},
}

func init() {
	tokenVerifyCmd.Flags().StringVar(&verifyIssuer, "issuer", "", "expected iss")
	tokenVerifyCmd.Flags().StringVar(&verifyAudience, "audience", "", "expected aud")
	tokenVerifyCmd.Flags().StringVar(&verifyJWKSURL, "jwks-url", "", "JWKS endpoint")
	tokenVerifyCmd.Flags().DurationVar(&verifyLeeway, "leeway", 30*time.Second, "clock skew tolerance")
	tokenVerifyCmd.Flags().StringVar(&verifyMode, "discovery", string(discovery.ModeOpportunistic), "discovery mode: always, opportunistic or never")
	tokenCmd.AddCommand(tokenVerifyCmd)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
