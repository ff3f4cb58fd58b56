package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/folio/internal/ir"
)

// NewLockCommand creates the lock command group.
func NewLockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Acquire, renew and release advisory locks",
		Long: `Advisory locks are named, leased mutexes for cooperating processes.
Acquiring returns a handle that renew and release must present. A lock
whose lease has run out can be acquired by anyone.`,
	}

	cmd.AddCommand(newLockAcquireCommand(rootOpts))
	cmd.AddCommand(newLockRenewCommand(rootOpts))
	cmd.AddCommand(newLockReleaseCommand(rootOpts))

	return cmd
}

func newLockAcquireCommand(rootOpts *RootOptions) *cobra.Command {
	var lease time.Duration

	cmd := &cobra.Command{
		Use:   "acquire <name>",
		Short: "Acquire an advisory lock",
		Long: `Acquire an advisory lock. Fails with a conflict while another holder's
lease is live.

Example:
  folio lock acquire reindex --lease 30s`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRepository(cmd, func(env *commandEnv) error {
				lock, err := env.repo.AcquireAdvisoryLock(env.ctx, args[0], lease)
				if err != nil {
					return env.out.Fail(err)
				}
				return outputLock(env.out, lock)
			})
		},
	}

	cmd.Flags().DurationVar(&lease, "lease", time.Minute, "lease duration")

	return cmd
}

func newLockRenewCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "renew <name> <handle>",
		Short: "Renew an advisory lock's lease",
		Long: `Renew an advisory lock for another lease period. Fails with not found
when the lease has already run out or the handle does not match.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[1])
			if err != nil {
				return err
			}
			return rootOpts.withRepository(cmd, func(env *commandEnv) error {
				lock, err := env.repo.RenewAdvisoryLock(env.ctx, args[0], handle)
				if err != nil {
					return env.out.Fail(err)
				}
				return outputLock(env.out, lock)
			})
		},
	}

	return cmd
}

func newLockReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "release <name> <handle>",
		Short:         "Release an advisory lock",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			handle, err := parseHandle(args[1])
			if err != nil {
				return err
			}
			return rootOpts.withRepository(cmd, func(env *commandEnv) error {
				if err := env.repo.ReleaseAdvisoryLock(env.ctx, args[0], handle); err != nil {
					return env.out.Fail(err)
				}
				return env.out.Result(map[string]any{"name": args[0], "released": true}, func(w io.Writer) {
					fmt.Fprintf(w, "✓ Released %s\n", args[0])
				})
			})
		},
	}

	return cmd
}

func parseHandle(arg string) (int32, error) {
	n, err := strconv.ParseInt(arg, 10, 32)
	if err != nil {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid lock handle %q", arg))
	}
	return int32(n), nil
}

func outputLock(out *OutputFormatter, lock ir.AdvisoryLock) error {
	return out.Result(lock, func(w io.Writer) {
		fmt.Fprintf(w, "%s handle=%d expires=%s\n",
			lock.Name, lock.Handle, lock.ExpiresAt.Format(time.RFC3339))
	})
}
