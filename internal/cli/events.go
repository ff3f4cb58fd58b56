package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/folio/internal/engine"
	"github.com/roach88/folio/internal/eventlog"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
	"github.com/roach88/folio/internal/store"
)

// ChangelogOptions holds flags for the changelog command.
type ChangelogOptions struct {
	*RootOptions
	Entity    string
	Reverse   bool
	First     int
	After     string
	CountOnly bool
}

// NewChangelogCommand creates the changelog command.
func NewChangelogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangelogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changelog",
		Short: "List change events",
		Long: `List the events that changed the repository, oldest first.

Examples:
  folio changelog
  folio changelog --entity 0b9a... --reverse
  folio changelog --first 20 --after <cursor>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChangelog(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Entity, "entity", "", "only events touching this entity")
	cmd.Flags().BoolVar(&opts.Reverse, "reverse", false, "newest events first")
	cmd.Flags().IntVar(&opts.First, "first", 0, "page size")
	cmd.Flags().StringVar(&opts.After, "after", "", "cursor to continue from")
	cmd.Flags().BoolVar(&opts.CountOnly, "count", false, "print the total number of events only")

	return cmd
}

func runChangelog(opts *ChangelogOptions, cmd *cobra.Command) error {
	q := eventlog.ChangelogQuery{EntityID: opts.Entity, Reverse: opts.Reverse}
	paging := queryir.Paging{After: opts.After}
	if cmd.Flags().Changed("first") {
		paging.First = &opts.First
	}

	return opts.withRepository(cmd, func(env *commandEnv) error {
		if opts.CountOnly {
			n, err := env.repo.GetChangelogEventsTotalCount(env.ctx, q)
			if err != nil {
				return env.out.Fail(err)
			}
			return env.out.Result(map[string]int{"totalCount": n}, func(w io.Writer) {
				fmt.Fprintln(w, n)
			})
		}

		page, err := env.repo.GetChangelogEvents(env.ctx, q, paging)
		if err != nil {
			return env.out.Fail(err)
		}
		return env.out.Result(page, func(w io.Writer) {
			for _, edge := range page.Edges {
				printChangelogEvent(w, edge.Node)
			}
			printPageInfo(w, page.PageInfo)
		})
	})
}

func printChangelogEvent(w io.Writer, ev ir.ChangelogEvent) {
	fmt.Fprintf(w, "%s %s %s by=%s", ev.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"), ev.Type, ev.ID, ev.CreatedBy)
	for _, e := range ev.Entities {
		fmt.Fprintf(w, " %s@%d", e.ID, e.Version)
	}
	if ev.SchemaVersion != 0 {
		fmt.Fprintf(w, " schema=v%d", ev.SchemaVersion)
	}
	fmt.Fprintln(w)
}

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	After  string
	Limit  int
	Target string
	Driver string
}

// SyncResult is the outcome of replicating the sync feed.
type SyncResult struct {
	Applied    int    `json:"applied"`
	Skipped    int    `json:"skipped"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Read or replicate the sync feed",
		Long: `Read the sync feed: every event with its full payload, in log order.

With --target the feed is replayed into another repository instead. Events
the target already has are skipped, so replication can be resumed with
--after at any earlier cursor.

Examples:
  folio sync --limit 100
  folio sync --after <cursor> --format json
  folio sync --target ./replica.db
  folio sync --target 'postgres://localhost/folio' --target-driver postgres`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Target != "" {
				return runReplicate(opts, cmd)
			}
			return runSync(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.After, "after", "", "cursor to continue from")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of events")
	cmd.Flags().StringVar(&opts.Target, "target", "", "replicate into this database")
	cmd.Flags().StringVar(&opts.Driver, "target-driver", "sqlite", "storage driver of --target (sqlite|postgres)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	q := eventlog.SyncQuery{After: opts.After, Limit: opts.Limit}

	return opts.withRepository(cmd, func(env *commandEnv) error {
		page, err := env.repo.GetSyncEvents(env.ctx, q)
		if err != nil {
			return env.out.Fail(err)
		}
		return env.out.Result(page, func(w io.Writer) {
			for _, ev := range page.Events {
				fmt.Fprintln(w, eventlog.String(ev))
			}
			if page.NextCursor != "" {
				fmt.Fprintf(w, "cursor: %s (more=%t)\n", page.NextCursor, page.HasMore)
			}
		})
	})
}

func runReplicate(opts *SyncOptions, cmd *cobra.Command) error {
	return opts.withRepository(cmd, func(env *commandEnv) error {
		backend, err := store.Open(store.Config{Driver: opts.Driver, DSN: opts.Target})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open target database", err)
		}
		target, err := engine.New(backend, engine.WithLogger(env.logger))
		if err != nil {
			_ = backend.Close()
			return WrapExitError(ExitCommandError, "failed to create target repository", err)
		}
		defer func() {
			if closeErr := target.Close(); closeErr != nil {
				env.logger.Error("error closing target database", "error", closeErr)
			}
		}()

		result := SyncResult{NextCursor: opts.After}
		for {
			page, err := env.repo.GetSyncEvents(env.ctx, eventlog.SyncQuery{After: result.NextCursor, Limit: opts.Limit})
			if err != nil {
				return env.out.Fail(err)
			}
			for _, ev := range page.Events {
				effect, err := target.ApplySyncEvent(env.ctx, ev)
				if err != nil {
					env.out.VerboseLog("Replication stopped at event %s", ev.ID)
					return env.out.Fail(err)
				}
				if effect == ir.EffectNone {
					result.Skipped++
				} else {
					result.Applied++
				}
				env.out.VerboseLog("%s %s", effect, eventlog.String(ev))
			}
			result.NextCursor = page.NextCursor
			if !page.HasMore {
				break
			}
		}

		env.logger.Info("replication finished",
			"applied", result.Applied,
			"skipped", result.Skipped,
			"cursor", result.NextCursor,
		)
		return env.out.Result(result, func(w io.Writer) {
			fmt.Fprintf(w, "✓ Replicated %d event(s), %d already present\n", result.Applied, result.Skipped)
			if result.NextCursor != "" {
				fmt.Fprintf(w, "cursor: %s\n", result.NextCursor)
			}
		})
	})
}
