package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Database is the SQLite file used when no DSN is given.
	Database string
	Driver   string // "sqlite" | "postgres"
	DSN      string

	// Subject runs commands as an authenticated session. Token takes
	// precedence when set.
	Subject   string
	Token     string
	JWTSecret string

	// Metrics writes the repository's Prometheus metrics to stderr after
	// the command finishes.
	Metrics bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// ValidDrivers defines the allowed storage drivers.
var ValidDrivers = []string{"sqlite", "postgres"}

// NewRootCommand creates the root command for the folio CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "folio",
		Short: "folio - schema-driven content repository",
		Long: `A headless content repository: typed entities with versions, drafts and
publishing, validated against an evolving schema and recorded in an event log.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if !slices.Contains(ValidDrivers, opts.Driver) {
				return fmt.Errorf("invalid driver %q: must be one of %v", opts.Driver, ValidDrivers)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "folio.db", "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "sqlite", "storage driver (sqlite|postgres)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "connection string; overrides --db")
	cmd.PersistentFlags().StringVar(&opts.Subject, "subject", "", "session subject (empty for anonymous)")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", "", "bearer token identifying the session subject")
	cmd.PersistentFlags().StringVar(&opts.JWTSecret, "jwt-secret", "", "HS256 secret for --token (default $FOLIO_JWT_SECRET)")
	cmd.PersistentFlags().BoolVar(&opts.Metrics, "metrics", false, "print repository metrics to stderr")

	// Add subcommands
	cmd.AddCommand(NewSchemaCommand(opts))
	cmd.AddCommand(NewEntityCommand(opts))
	cmd.AddCommand(NewSearchCommand(opts))
	cmd.AddCommand(NewSampleCommand(opts))
	cmd.AddCommand(NewChangelogCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewLockCommand(opts))
	cmd.AddCommand(NewRevalidateCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
