package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/roach88/folio/internal/auth"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a bearer token for a subject",
		Long: `Issue an HS256 bearer token whose subject becomes the session subject
of commands run with --token.

Example:
  export FOLIO_JWT_SECRET=dev-secret
  folio token alice --ttl 1h
  folio entity get 0b9a... --token "$(folio token alice)"`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			secret := rootOpts.JWTSecret
			if secret == "" {
				secret = os.Getenv(jwtSecretEnv)
			}
			if secret == "" {
				return NewExitError(ExitCommandError, fmt.Sprintf("--jwt-secret or $%s is required", jwtSecretEnv))
			}

			now := time.Now()
			claims := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
			}
			token, err := auth.NewTokenVerifier(secret).Sign(args[0], claims)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to sign token", err)
			}
			return out.Result(map[string]string{"token": token}, func(w io.Writer) {
				fmt.Fprintln(w, token)
			})
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")

	return cmd
}
