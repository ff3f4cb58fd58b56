package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/folio/internal/codec"
	"github.com/roach88/folio/internal/engine"
	"github.com/roach88/folio/internal/ir"
	"github.com/roach88/folio/internal/queryir"
)

// SearchOptions holds flags for the search and sample commands.
type SearchOptions struct {
	*RootOptions
	Query     string
	Published bool

	// search
	First     int
	Last      int
	After     string
	Before    string
	CountOnly bool

	// sample
	Count int
	Seed  int64
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search entities",
		Long: `Search the latest or published versions of entities.

The query is a JSON object with optional entityTypes, componentTypes,
status, authKeys, valid, linksTo, linksFrom, text, boundingBox, order and
reverse. Results are paged with opaque cursors.

Examples:
  folio search --query '{"entityTypes":["BlogPost"],"order":"name"}'
  folio search --query '{"text":"hello"}' --published --first 5
  folio search --query @query.json --after <cursor>
  folio search --query '{"status":["draft"]}' --count`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Query, "query", "", "query as JSON, @file or - for stdin")
	cmd.Flags().BoolVar(&opts.Published, "published", false, "search published versions")
	cmd.Flags().IntVar(&opts.First, "first", 0, "page size reading forward")
	cmd.Flags().IntVar(&opts.Last, "last", 0, "page size reading backward")
	cmd.Flags().StringVar(&opts.After, "after", "", "cursor to read forward from")
	cmd.Flags().StringVar(&opts.Before, "before", "", "cursor to read backward from")
	cmd.Flags().BoolVar(&opts.CountOnly, "count", false, "print the total number of matches only")

	return cmd
}

func (o *SearchOptions) paging(cmd *cobra.Command) queryir.Paging {
	p := queryir.Paging{After: o.After, Before: o.Before}
	if cmd.Flags().Changed("first") {
		p.First = &o.First
	}
	if cmd.Flags().Changed("last") {
		p.Last = &o.Last
	}
	return p
}

func runSearch(opts *SearchOptions, cmd *cobra.Command) error {
	var q queryir.EntityQuery
	if err := decodeInput(cmd, "query", opts.Query, &q); err != nil {
		return err
	}
	paging := opts.paging(cmd)

	return opts.withRepository(cmd, func(env *commandEnv) error {
		if opts.CountOnly {
			count := env.repo.GetEntitiesTotalCount
			if opts.Published {
				count = env.repo.GetPublishedEntitiesTotalCount
			}
			n, err := count(env.ctx, env.session, q)
			if err != nil {
				return env.out.Fail(err)
			}
			return env.out.Result(map[string]int{"totalCount": n}, func(w io.Writer) {
				fmt.Fprintln(w, n)
			})
		}

		if opts.Published {
			conn, err := env.repo.SearchPublishedEntities(env.ctx, env.session, q, paging)
			if err != nil {
				return env.out.Fail(err)
			}
			page := encodeConnection(conn, codec.EncodePublished)
			return env.out.Result(page, func(w io.Writer) {
				for _, edge := range page.Edges {
					printPublished(w, edge.Node)
				}
				printPageInfo(w, page.PageInfo)
			})
		}

		conn, err := env.repo.SearchEntities(env.ctx, env.session, q, paging)
		if err != nil {
			return env.out.Fail(err)
		}
		page := encodeConnection(conn, codec.EncodeEntity)
		return env.out.Result(page, func(w io.Writer) {
			for _, edge := range page.Edges {
				printEntity(w, edge.Node)
			}
			printPageInfo(w, page.PageInfo)
		})
	})
}

// NewSampleCommand creates the sample command.
func NewSampleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Draw a random sample of a search",
		Long: `Draw a random sample of the entities matching a query. The same seed
over the same data returns the same sample; the seed used is always
reported.

Examples:
  folio sample --query '{"entityTypes":["BlogPost"]}' --count 3
  folio sample --query '{}' --count 3 --seed 42 --published`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Query, "query", "", "query as JSON, @file or - for stdin")
	cmd.Flags().BoolVar(&opts.Published, "published", false, "sample published versions")
	cmd.Flags().IntVar(&opts.Count, "count", 1, "sample size")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "random seed (chosen when not set)")

	return cmd
}

func runSample(opts *SearchOptions, cmd *cobra.Command) error {
	var q queryir.EntityQuery
	if err := decodeInput(cmd, "query", opts.Query, &q); err != nil {
		return err
	}
	sampleOpts := queryir.SampleOptions{Count: opts.Count}
	if cmd.Flags().Changed("seed") {
		sampleOpts.Seed = &opts.Seed
	}

	return opts.withRepository(cmd, func(env *commandEnv) error {
		if opts.Published {
			s, err := env.repo.SamplePublishedEntities(env.ctx, env.session, q, sampleOpts)
			if err != nil {
				return env.out.Fail(err)
			}
			out := encodeSample(s, codec.EncodePublished)
			return env.out.Result(out, func(w io.Writer) {
				fmt.Fprintf(w, "seed=%d total=%d\n", out.Seed, out.TotalCount)
				for _, doc := range out.Items {
					printPublished(w, doc)
				}
			})
		}

		s, err := env.repo.SampleEntities(env.ctx, env.session, q, sampleOpts)
		if err != nil {
			return env.out.Fail(err)
		}
		out := encodeSample(s, codec.EncodeEntity)
		return env.out.Result(out, func(w io.Writer) {
			fmt.Fprintf(w, "seed=%d total=%d\n", out.Seed, out.TotalCount)
			for _, doc := range out.Items {
				printEntity(w, doc)
			}
		})
	})
}

func encodeConnection[T, D any](conn ir.Connection[T], encode func(T) D) ir.Connection[D] {
	edges := make([]ir.Edge[D], len(conn.Edges))
	for i, e := range conn.Edges {
		edges[i] = ir.Edge[D]{Cursor: e.Cursor, Node: encode(e.Node)}
	}
	return ir.Connection[D]{Edges: edges, PageInfo: conn.PageInfo}
}

func encodeSample[T, D any](s engine.Sample[T], encode func(T) D) engine.Sample[D] {
	items := make([]D, len(s.Items))
	for i, item := range s.Items {
		items[i] = encode(item)
	}
	return engine.Sample[D]{Seed: s.Seed, TotalCount: s.TotalCount, Items: items}
}

func printPageInfo(w io.Writer, info ir.PageInfo) {
	if info.HasNextPage {
		fmt.Fprintf(w, "next page: --after %s\n", info.EndCursor)
	}
	if info.HasPreviousPage {
		fmt.Fprintf(w, "previous page: --before %s\n", info.StartCursor)
	}
}
