package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/folio/internal/engine"
	"github.com/roach88/folio/internal/ir"
)

// revalidateLock serializes background runs across processes.
const revalidateLock = "folio.revalidate"

// RevalidateOptions holds flags for the revalidate command.
type RevalidateOptions struct {
	*RootOptions
	Types   []string
	Mark    bool
	Reindex bool
	Limit   int
	Lease   time.Duration
}

// RevalidateResult summarizes a background run.
type RevalidateResult struct {
	Marked      int64                     `json:"marked"`
	Revalidated int                       `json:"revalidated"`
	Reindexed   int                       `json:"reindexed"`
	Invalid     []engine.BackgroundResult `json:"invalid,omitempty"`
}

// backgroundJob processes one dirty entity per call and counts them.
type backgroundJob struct {
	next  func(ctx context.Context) (*engine.BackgroundResult, error)
	count *int
}

// NewRevalidateCommand creates the revalidate command.
func NewRevalidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RevalidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revalidate",
		Short: "Run background revalidation and reindexing",
		Long: `Revalidate (and with --reindex, reindex) entities marked dirty by schema
changes until none are left. With --mark, entities of the given types (or
all types) are marked first.

The run holds the advisory lock "folio.revalidate" so concurrent runs do
not overlap.

Examples:
  folio revalidate
  folio revalidate --mark --type BlogPost --reindex
  folio revalidate --limit 100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevalidate(opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Types, "type", nil, "entity types to mark (default all)")
	cmd.Flags().BoolVar(&opts.Mark, "mark", false, "mark entities dirty before processing")
	cmd.Flags().BoolVar(&opts.Reindex, "reindex", false, "also rebuild search and reference indexes")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many entities per job (0 for no limit)")
	cmd.Flags().DurationVar(&opts.Lease, "lease", 30*time.Second, "lease of the revalidation lock")

	return cmd
}

func runRevalidate(opts *RevalidateOptions, cmd *cobra.Command) error {
	return opts.withRepository(cmd, func(env *commandEnv) error {
		lock, err := env.repo.AcquireAdvisoryLock(env.ctx, revalidateLock, opts.Lease)
		if err != nil {
			return env.out.Fail(err)
		}
		defer func() {
			if err := env.repo.ReleaseAdvisoryLock(env.ctx, lock.Name, lock.Handle); err != nil {
				env.logger.Warn("error releasing lock", "lock", lock.Name, "error", err)
			}
		}()
		renewAt := time.Now().Add(opts.Lease / 2)
		keepAlive := func() error {
			if time.Now().Before(renewAt) {
				return nil
			}
			if _, err := env.repo.RenewAdvisoryLock(env.ctx, lock.Name, lock.Handle); err != nil {
				return err
			}
			renewAt = time.Now().Add(opts.Lease / 2)
			return nil
		}

		var result RevalidateResult
		if opts.Mark {
			flags := ir.DirtyValidate
			if opts.Reindex {
				flags |= ir.DirtyIndex
			}
			result.Marked, err = env.repo.MarkEntitiesDirty(env.ctx, opts.Types, flags)
			if err != nil {
				return env.out.Fail(err)
			}
			env.out.VerboseLog("Marked %d entities", result.Marked)
		}

		jobs := []backgroundJob{{env.repo.RevalidateNextEntity, &result.Revalidated}}
		if opts.Reindex {
			jobs = append(jobs, backgroundJob{env.repo.ReindexNextEntity, &result.Reindexed})
		}
		for _, job := range jobs {
			for opts.Limit == 0 || *job.count < opts.Limit {
				if err := keepAlive(); err != nil {
					return env.out.Fail(err)
				}
				res, err := job.next(env.ctx)
				if err != nil {
					return env.out.Fail(err)
				}
				if res == nil {
					break
				}
				*job.count++
				if !res.ValidLatest || (res.ValidPublished != nil && !*res.ValidPublished) {
					result.Invalid = append(result.Invalid, *res)
				}
			}
		}

		return env.out.Result(result, func(w io.Writer) {
			fmt.Fprintf(w, "✓ Revalidated %d, reindexed %d\n", result.Revalidated, result.Reindexed)
			for _, r := range result.Invalid {
				fmt.Fprintf(w, "  invalid: %s %s\n", r.ID, r.Type)
			}
		})
	})
}
