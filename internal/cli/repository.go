package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/folio/internal/auth"
	"github.com/roach88/folio/internal/engine"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/metrics"
	"github.com/roach88/folio/internal/store"
)

// jwtSecretEnv names the environment variable read when --jwt-secret is
// not given.
const jwtSecretEnv = "FOLIO_JWT_SECRET"

// commandEnv is what a repository command runs with.
type commandEnv struct {
	ctx     context.Context
	repo    *engine.Repository
	session auth.Session
	out     *OutputFormatter
	logger  *slog.Logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// logger returns a text logger on stderr. Repository logs are shown at
// debug level with --verbose and only warnings otherwise.
func (o *RootOptions) logger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// storeConfig returns the backend configuration selected by the global
// flags.
func (o *RootOptions) storeConfig() store.Config {
	dsn := o.DSN
	if dsn == "" {
		dsn = o.Database
	}
	return store.Config{Driver: o.Driver, DSN: dsn}
}

// session returns the session commands run as.
func (o *RootOptions) session() (auth.Session, error) {
	if o.Token == "" {
		return auth.Session{Subject: o.Subject}, nil
	}
	secret := o.JWTSecret
	if secret == "" {
		secret = os.Getenv(jwtSecretEnv)
	}
	if secret == "" {
		return auth.Session{}, ir.NewBadRequest("--token requires --jwt-secret or $%s", jwtSecretEnv)
	}
	return auth.NewTokenVerifier(secret).Session(o.Token)
}

// withRepository opens the configured repository, runs fn and closes the
// repository again.
func (o *RootOptions) withRepository(cmd *cobra.Command, fn func(env *commandEnv) error) error {
	out := o.formatter(cmd)
	logger := o.logger(cmd)

	session, err := o.session()
	if err != nil {
		return out.Fail(err)
	}

	cfg := o.storeConfig()
	out.VerboseLog("Opening %s database %s", cfg.Driver, cfg.DSN)
	backend, err := store.Open(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}

	opts := []engine.Option{engine.WithLogger(logger)}
	var reg *prometheus.Registry
	if o.Metrics {
		reg = prometheus.NewRegistry()
		opts = append(opts, engine.WithMetrics(metrics.New(reg)))
	}
	repo, err := engine.New(backend, opts...)
	if err != nil {
		_ = backend.Close()
		return WrapExitError(ExitCommandError, "failed to create repository", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	err = fn(&commandEnv{ctx: ctx, repo: repo, session: session, out: out, logger: logger})

	if reg != nil {
		if metricsErr := writeMetrics(cmd.ErrOrStderr(), reg); metricsErr != nil {
			logger.Error("error writing metrics", "error", metricsErr)
		}
	}
	return err
}

// writeMetrics writes every gathered metric family in the Prometheus text
// exposition format.
func writeMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}

// readInput returns the bytes of a JSON argument: the literal value, the
// contents of a file for "@path", or stdin for "-".
func readInput(cmd *cobra.Command, value string) ([]byte, error) {
	switch {
	case value == "-":
		return io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(value, "@"):
		return os.ReadFile(value[1:])
	default:
		return []byte(value), nil
	}
}

// decodeInput decodes a JSON argument into out, rejecting unknown keys.
// An empty value leaves out unchanged.
func decodeInput(cmd *cobra.Command, flag, value string, out any) error {
	if value == "" {
		return nil
	}
	data, err := readInput(cmd, value)
	if err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("failed to read --%s: %v", flag, err))
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid --%s JSON: %v", flag, err))
	}
	return nil
}

// parseVersionRef parses "id" or "id@version".
func parseVersionRef(arg string) (ir.EntityVersionReference, error) {
	id, version, found := strings.Cut(arg, "@")
	if !found {
		return ir.EntityVersionReference{ID: id}, nil
	}
	n, err := strconv.Atoi(version)
	if err != nil || n <= 0 {
		return ir.EntityVersionReference{}, NewExitError(ExitCommandError, fmt.Sprintf("invalid entity reference %q: version must be a positive integer", arg))
	}
	return ir.EntityVersionReference{ID: id, Version: n}, nil
}
