package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/engine"
	"github.com/roach88/folio/internal/ir"
)

// EntityOptions holds flags shared by the entity write commands.
type EntityOptions struct {
	*RootOptions
	ID      string
	Name    string
	AuthKey string
	Fields  string
	Version int
	Publish bool
	Upsert  bool
}

// NewEntityCommand creates the entity command group.
func NewEntityCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Create, read and change the lifecycle of entities",
	}

	cmd.AddCommand(newEntityCreateCommand(rootOpts))
	cmd.AddCommand(newEntityUpdateCommand(rootOpts))
	cmd.AddCommand(newEntityGetCommand(rootOpts))
	cmd.AddCommand(newEntityPublishCommand(rootOpts))
	cmd.AddCommand(newEntityUnpublishCommand(rootOpts))
	cmd.AddCommand(newEntityArchiveCommand(rootOpts, true))
	cmd.AddCommand(newEntityArchiveCommand(rootOpts, false))

	return cmd
}

func newEntityCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <type>",
		Short: "Create an entity",
		Long: `Create an entity of the given type.

Fields are given as a JSON object, inline, from a file (@path) or from
stdin (-). With --upsert an existing entity with the same --id is updated
instead.

Examples:
  folio entity create BlogPost --fields '{"title":"Hello"}'
  folio entity create BlogPost --fields @post.json --publish
  folio entity create BlogPost --id 0b9a... --fields @post.json --upsert`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityCreate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "entity id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "entity name when the type has no name field")
	cmd.Flags().StringVar(&opts.AuthKey, "auth-key", "", "authorization key (default \"none\")")
	cmd.Flags().StringVar(&opts.Fields, "fields", "", "fields as JSON, @file or - for stdin")
	cmd.Flags().BoolVar(&opts.Publish, "publish", false, "publish the created version")
	cmd.Flags().BoolVar(&opts.Upsert, "upsert", false, "update the entity if --id exists")

	return cmd
}

func runEntityCreate(opts *EntityOptions, entityType string, cmd *cobra.Command) error {
	in := engine.EntityCreate{
		ID:      opts.ID,
		Type:    entityType,
		Name:    opts.Name,
		AuthKey: opts.AuthKey,
	}
	if err := decodeInput(cmd, "fields", opts.Fields, &in.Fields); err != nil {
		return err
	}
	if opts.Upsert && opts.ID == "" {
		return NewExitError(ExitCommandError, "--upsert requires --id")
	}

	return opts.withRepository(cmd, func(env *commandEnv) error {
		write := env.repo.CreateEntity
		if opts.Upsert {
			write = env.repo.UpsertEntity
		}
		res, err := write(env.ctx, env.session, in, engine.WriteOptions{Publish: opts.Publish})
		if err != nil {
			return env.out.Fail(err)
		}
		return outputEntityResult(env.out, res)
	})
}

func newEntityUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an entity",
		Long: `Update an entity by merging fields into its latest version.

Keys present in --fields replace the stored value and null removes it.
With --version the update fails with a conflict unless that version is
still the latest.

Examples:
  folio entity update 0b9a... --fields '{"title":"Hello again"}'
  folio entity update 0b9a... --version 3 --fields @post.json --publish`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "entity name when the type has no name field")
	cmd.Flags().StringVar(&opts.Fields, "fields", "", "fields as JSON, @file or - for stdin")
	cmd.Flags().IntVar(&opts.Version, "version", 0, "expected latest version")
	cmd.Flags().BoolVar(&opts.Publish, "publish", false, "publish the updated version")

	return cmd
}

func runEntityUpdate(opts *EntityOptions, id string, cmd *cobra.Command) error {
	in := engine.EntityUpdate{ID: id, Name: opts.Name, Version: opts.Version}
	if err := decodeInput(cmd, "fields", opts.Fields, &in.Fields); err != nil {
		return err
	}

	return opts.withRepository(cmd, func(env *commandEnv) error {
		res, err := env.repo.UpdateEntity(env.ctx, env.session, in, engine.WriteOptions{Publish: opts.Publish})
		if err != nil {
			return env.out.Fail(err)
		}
		return outputEntityResult(env.out, res)
	})
}

// EntityGetOptions holds flags for the entity get command.
type EntityGetOptions struct {
	*RootOptions
	Published bool
}

func newEntityGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntityGetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <id[@version]>...",
		Short: "Read entities",
		Long: `Read one or more entities. Without a version the latest version is
returned; --published returns the published version instead.

Examples:
  folio entity get 0b9a...
  folio entity get 0b9a...@2 7c1e...
  folio entity get 0b9a... --published`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEntityGet(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Published, "published", false, "read the published version")

	return cmd
}

func runEntityGet(opts *EntityGetOptions, args []string, cmd *cobra.Command) error {
	refs := make([]ir.EntityVersionReference, len(args))
	for i, arg := range args {
		ref, err := parseVersionRef(arg)
		if err != nil {
			return err
		}
		if opts.Published && ref.Version != 0 {
			return NewExitError(ExitCommandError, "--published does not take a version")
		}
		refs[i] = ref
	}

	return opts.withRepository(cmd, func(env *commandEnv) error {
		if opts.Published {
			docs := make([]codec.PublishedDocument, 0, len(refs))
			for _, ref := range refs {
				e, err := env.repo.GetPublishedEntity(env.ctx, env.session, ir.EntityReference{ID: ref.ID})
				if err != nil {
					return env.out.Fail(err)
				}
				docs = append(docs, codec.EncodePublished(e))
			}
			return env.out.Result(single(docs), func(w io.Writer) {
				for _, doc := range docs {
					printPublished(w, doc)
				}
			})
		}

		if len(refs) == 1 {
			e, err := env.repo.GetEntity(env.ctx, env.session, refs[0])
			if err != nil {
				return env.out.Fail(err)
			}
			doc := codec.EncodeEntity(e)
			return env.out.Result(doc, func(w io.Writer) { printEntity(w, doc) })
		}

		lookups, err := env.repo.GetEntities(env.ctx, env.session, refs)
		if err != nil {
			return env.out.Fail(err)
		}
		results := make([]entityLookupResult, len(lookups))
		for i, l := range lookups {
			results[i].Ref = args[i]
			if l.Err != nil {
				results[i].Error = &CLIError{Code: ErrorCode(l.Err.Kind), Message: l.Err.Message}
				continue
			}
			doc := codec.EncodeEntity(*l.Entity)
			results[i].Entity = &doc
		}
		return env.out.Result(results, func(w io.Writer) {
			for _, r := range results {
				if r.Error != nil {
					fmt.Fprintf(w, "%s: Error [%s]: %s\n", r.Ref, r.Error.Code, r.Error.Message)
					continue
				}
				printEntity(w, *r.Entity)
			}
		})
	})
}

type entityLookupResult struct {
	Ref    string                `json:"ref"`
	Entity *codec.EntityDocument `json:"entity,omitempty"`
	Error  *CLIError             `json:"error,omitempty"`
}

func newEntityPublishCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish <id[@version]>...",
		Short: "Publish entity versions",
		Long: `Publish entity versions atomically: either every version is published
or none is. Without a version the latest version is published.

Example:
  folio entity publish 0b9a... 7c1e...@2`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := make([]ir.EntityVersionReference, len(args))
			for i, arg := range args {
				ref, err := parseVersionRef(arg)
				if err != nil {
					return err
				}
				refs[i] = ref
			}
			return rootOpts.withRepository(cmd, func(env *commandEnv) error {
				results, err := env.repo.PublishEntities(env.ctx, env.session, refs)
				if err != nil {
					return env.out.Fail(err)
				}
				return outputStatusResults(env.out, results)
			})
		},
	}

	return cmd
}

func newEntityUnpublishCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unpublish <id>...",
		Short: "Withdraw published entities",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := make([]ir.EntityReference, len(args))
			for i, arg := range args {
				refs[i] = ir.EntityReference{ID: arg}
			}
			return rootOpts.withRepository(cmd, func(env *commandEnv) error {
				results, err := env.repo.UnpublishEntities(env.ctx, env.session, refs)
				if err != nil {
					return env.out.Fail(err)
				}
				return outputStatusResults(env.out, results)
			})
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return cmd
}

func newEntityArchiveCommand(rootOpts *RootOptions, archive bool) *cobra.Command {
	use, short := "archive <id>", "Archive an entity"
	if !archive {
		use, short = "unarchive <id>", "Restore an archived entity"
	}

	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.withRepository(cmd, func(env *commandEnv) error {
				op := env.repo.ArchiveEntity
				if !archive {
					op = env.repo.UnarchiveEntity
				}
				res, err := op(env.ctx, env.session, ir.EntityReference{ID: args[0]})
				if err != nil {
					return env.out.Fail(err)
				}
				return outputStatusResults(env.out, []engine.StatusResult{res})
			})
		},
	}

	return cmd
}

func outputEntityResult(out *OutputFormatter, res engine.EntityResult) error {
	data := struct {
		Effect ir.Effect            `json:"effect"`
		Entity codec.EntityDocument `json:"entity"`
	}{res.Effect, codec.EncodeEntity(res.Entity)}

	return out.Result(data, func(w io.Writer) {
		fmt.Fprintf(w, "%s:\n", res.Effect)
		printEntity(w, data.Entity)
	})
}

func outputStatusResults(out *OutputFormatter, results []engine.StatusResult) error {
	return out.Result(results, func(w io.Writer) {
		for _, r := range results {
			fmt.Fprintf(w, "%s v%d %s (%s)\n", r.ID, r.Version, r.Status, r.Effect)
		}
	})
}

func printEntity(w io.Writer, doc codec.EntityDocument) {
	fmt.Fprintf(w, "%s %s %q v%d %s valid=%t\n",
		doc.ID, doc.Type, doc.Name, doc.Version, doc.Status, doc.ValidLatest)
	printFields(w, doc.Fields)
}

func printPublished(w io.Writer, doc codec.PublishedDocument) {
	fmt.Fprintf(w, "%s %s %q v%d published valid=%t\n",
		doc.ID, doc.Type, doc.Name, doc.Version, doc.Valid)
	printFields(w, doc.Fields)
}

func printFields(w io.Writer, fields ir.Object) {
	data, err := json.MarshalIndent(fields, "  ", "  ")
	if err != nil {
		fmt.Fprintf(w, "  fields: %v\n", err)
		return
	}
	fmt.Fprintf(w, "  %s\n", data)
}

// single unwraps a one-element slice so single lookups print an object.
func single[T any](items []T) any {
	if len(items) == 1 {
		return items[0]
	}
	return items
}
