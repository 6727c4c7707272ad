package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/austindbirch/activitylogger/internal/auth"
	"github.com/austindbirch/activitylogger/internal/config"
)

var (
	tokenEmail   string
	tokenType    string
	tokenTTL     time.Duration
	tokenKeyFile string
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Mint a bearer token the example app will resolve to a principal",
	Long: `Sign a JWT for subject. With --private-key the token is RS256 signed,
otherwise jwt.secret from the configuration is used for HS256.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		iss, err := newIssuer(cfg.JWT, tokenKeyFile)
		if err != nil {
			return err
		}
		typ := tokenType
		if typ == "" {
			typ = cfg.JWT.PrincipalType
		}
		token, err := iss.Issue(args[0], tokenEmail, typ, tokenTTL)
		if err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"token":      token,
				"expires_in": int(tokenTTL.Seconds()),
				"token_type": "Bearer",
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func newIssuer(cfg config.JWT, keyFile string) (*auth.Issuer, error) {
	if keyFile != "" {
		pemBytes, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		return auth.NewRSAIssuer(string(pemBytes), "activitylogger-key-1", cfg.Issuer, cfg.Audience)
	}
	if cfg.Secret == "" {
		return nil, fmt.Errorf("set jwt.secret or pass --private-key")
	}
	return auth.NewHMACIssuer(cfg.Secret, cfg.Issuer, cfg.Audience)
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenType, "type", "", "principal type claim (default jwt.principal_type)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	tokenCmd.Flags().StringVar(&tokenKeyFile, "private-key", "", "PEM RSA private key for RS256")
	_ = tokenCmd.RegisterFlagCompletionFunc("type", completePrincipalTypes)
}
