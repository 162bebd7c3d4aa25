package token

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/ledbot/cmd/ledbot/internal"
	"github.com/tinyland-inc/ledbot/pkg/api"
)

func NewTokenCommand() *cobra.Command {
	var user string
	var ttlMinutes int

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return tokenCmd(user, ttlMinutes)
		},
	}

	cmd.Flags().StringVarP(&user, "user", "u", "admin", "Subject to embed in the token")
	cmd.Flags().IntVar(&ttlMinutes, "ttl", 0, "Token lifetime in minutes (0 uses the configured expiry)")

	return cmd
}

func tokenCmd(user string, ttlMinutes int) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured")
	}

	ttl := time.Duration(cfg.Auth.TokenExpiry) * time.Minute
	if ttlMinutes > 0 {
		ttl = time.Duration(ttlMinutes) * time.Minute
	}

	issuer := api.NewTokenIssuer(cfg.Auth.JWTSecret, ttl)
	token, exp, err := issuer.Issue(user)
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Printf("expires: %s\n", exp.Format(time.RFC3339))
	return nil
}
