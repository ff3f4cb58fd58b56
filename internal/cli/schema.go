package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/folio/internal/engine"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/schema"
)

// SchemaValidationResult holds the result of validating a specification
// update.
type SchemaValidationResult struct {
	Valid   bool                     `json:"valid"`
	Version int                      `json:"version,omitempty"`
	Errors  []schema.ValidationError `json:"errors,omitempty"`
}

// SchemaApplyResult holds the result of applying a specification update.
type SchemaApplyResult struct {
	Effect  ir.Effect    `json:"effect"`
	Version int          `json:"version"`
	DryRun  bool         `json:"dryRun,omitempty"`
	Delta   schema.Delta `json:"delta"`
}

// NewSchemaCommand creates the schema command group.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Apply, inspect and validate the schema specification",
	}

	cmd.AddCommand(newSchemaApplyCommand(rootOpts))
	cmd.AddCommand(newSchemaShowCommand(rootOpts))
	cmd.AddCommand(newSchemaValidateCommand(rootOpts))

	return cmd
}

func newSchemaApplyCommand(rootOpts *RootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Apply a specification update",
		Long: `Apply a specification update from a .cue, .yaml or .json file.

The update is merged into the current specification. An update that
changes nothing leaves the schema version unchanged. With --dry-run the
merged specification is validated and its delta printed without storing
anything.

Examples:
  folio schema apply ./schema/blog.cue
  folio schema apply ./schema/blog.cue --dry-run --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaApply(rootOpts, args[0], dryRun, cmd)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and print the delta without storing")

	return cmd
}

func runSchemaApply(opts *RootOptions, path string, dryRun bool, cmd *cobra.Command) error {
	update, err := schema.LoadUpdateFile(path)
	if err != nil {
		out := opts.formatter(cmd)
		return out.Fail(err)
	}

	return opts.withRepository(cmd, func(env *commandEnv) error {
		current, err := env.repo.GetSchemaSpecification(env.ctx)
		if err != nil {
			return env.out.Fail(err)
		}

		var (
			next   schema.Specification
			effect ir.Effect
		)
		if dryRun {
			next, err = schema.Merge(current, update)
			if err == nil {
				_, err = schema.NewSchema(next)
			}
			effect = ir.EffectNone
		} else {
			var res engine.SchemaResult
			res, err = env.repo.UpdateSchemaSpecification(env.ctx, env.session, update)
			next, effect = res.Specification, res.Effect
		}
		if err != nil {
			return env.out.Fail(err)
		}

		delta, err := schema.Diff(current, next)
		if err != nil {
			return env.out.Fail(err)
		}
		result := SchemaApplyResult{Effect: effect, Version: next.Version, DryRun: dryRun, Delta: delta}
		return env.out.Result(result, func(w io.Writer) {
			switch {
			case dryRun:
				fmt.Fprintf(w, "Dry run: schema would be v%d\n", next.Version)
			case effect == ir.EffectNone:
				fmt.Fprintf(w, "Schema unchanged at v%d\n", next.Version)
			default:
				fmt.Fprintf(w, "✓ Schema updated to v%d\n", next.Version)
			}
			printDelta(w, delta)
		})
	})
}

func printDelta(w io.Writer, delta schema.Delta) {
	for _, t := range delta.Types {
		kind := "type"
		if t.Component {
			kind = "component"
		}
		line := fmt.Sprintf("  %s %s %s", kind, t.Name, t.Change)
		if t.NewName != "" {
			line += " -> " + t.NewName
		}
		fmt.Fprintln(w, line)
		for _, f := range t.Fields {
			line := fmt.Sprintf("    field %s %s", f.Name, f.Change)
			if f.NewName != "" {
				line += " -> " + f.NewName
			}
			fmt.Fprintln(w, line)
		}
	}
	for old, renamed := range delta.RenamedIndexes {
		fmt.Fprintf(w, "  index %s renamed -> %s\n", old, renamed)
	}
	for _, name := range delta.DeletedIndexes {
		fmt.Fprintf(w, "  index %s removed\n", name)
	}
	for _, name := range delta.ChangedPatterns {
		fmt.Fprintf(w, "  pattern %s changed\n", name)
	}
}

func newSchemaShowCommand(rootOpts *RootOptions) *cobra.Command {
	var version int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the schema specification",
		Long: `Print the current schema specification, or a stored earlier version
with --version.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRepository(cmd, func(env *commandEnv) error {
				var (
					spec schema.Specification
					err  error
				)
				if version > 0 {
					spec, err = env.repo.GetSchemaSpecificationVersion(env.ctx, version)
				} else {
					spec, err = env.repo.GetSchemaSpecification(env.ctx)
				}
				if err != nil {
					return env.out.Fail(err)
				}
				return env.out.Success(spec)
			})
		},
	}

	cmd.Flags().IntVar(&version, "version", 0, "specification version (default current)")

	return cmd
}

func newSchemaValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a specification update without a database",
		Long: `Validate a specification update as if it were applied to an empty
repository. Reports every structural error, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runSchemaValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)

	update, err := schema.LoadUpdateFile(path)
	if err != nil {
		return out.Fail(err)
	}
	out.VerboseLog("Loaded %d entity type(s), %d component type(s) from %s",
		len(update.EntityTypes), len(update.ComponentTypes), path)

	merged, err := schema.Merge(schema.Empty(), update)
	if err != nil {
		return out.Fail(err)
	}

	result := SchemaValidationResult{Version: merged.Version, Errors: schema.Validate(merged)}
	result.Valid = len(result.Errors) == 0

	if !result.Valid {
		if out.Format == "json" {
			if err := out.Error(ErrCodeInvalidSchema, fmt.Sprintf("%d validation error(s)", len(result.Errors)), result); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out.Writer, "✗ %s: %d validation error(s)\n", path, len(result.Errors))
			for _, e := range result.Errors {
				fmt.Fprintf(out.Writer, "  %s\n", e.Error())
			}
		}
		return NewExitError(ExitFailure, "schema validation failed")
	}

	return out.Result(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid\n", path)
	})
}
