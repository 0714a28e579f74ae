package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/hybridsearch/internal/app"
	"github.com/dshills/hybridsearch/internal/fetcher"
	"github.com/dshills/hybridsearch/internal/mcp"
	"github.com/dshills/hybridsearch/internal/searcher"
)

func newServeCmd(opts *options) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				if watch || c.Config().Index.Watch {
					go func() {
						if err := c.Watch(ctx); err != nil {
							slog.Error("watcher stopped", "error", err)
						}
					}()
				}

				err := mcp.NewServer(c).Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
				slog.Info("server stopped")
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-index when workspace files change")
	return cmd
}

func newIndexCmd(opts *options) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index new and changed workspace files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				result, err := c.Reindex(ctx, force)
				if err != nil {
					return err
				}
				stats := result.Stats
				cmd.Printf("Indexed %d files (%d unchanged, %d removed, %d failed), %d chunks in %s\n",
					stats.FilesIndexed, stats.FilesUnchanged, stats.FilesRemoved, stats.FilesFailed,
					stats.ChunksCreated, stats.Duration.Round(time.Millisecond))
				if stats.EmbeddingFailures > 0 {
					cmd.Printf("Warning: %d chunks could not be embedded\n", stats.EmbeddingFailures)
				}
				for _, msg := range stats.ErrorMessages {
					cmd.Printf("  %s\n", msg)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-index every file ignoring stored hashes")
	return cmd
}

func newSearchCmd(opts *options) *cobra.Command {
	var (
		limit   int
		mode    string
		asJSON  bool
		noIndex bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search indexed documents",
		Long: `Searches the workspace index. Hybrid mode fuses embedding similarity with
keyword overlap; vector and keyword modes use one signal only.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				if !noIndex {
					if _, err := c.Reindex(ctx, false); err != nil {
						return err
					}
				}

				resp, err := c.Engine().Search(ctx, searcher.SearchRequest{
					Query: strings.Join(args, " "),
					Limit: limit,
					Mode:  searcher.SearchMode(mode),
				})
				if err != nil {
					return fmt.Errorf("search failed: %w", err)
				}

				if asJSON {
					data, err := json.MarshalIndent(resp.Results, "", "  ")
					if err != nil {
						return fmt.Errorf("failed to marshal results: %w", err)
					}
					cmd.Println(string(data))
					return nil
				}

				if len(resp.Results) == 0 {
					cmd.Println("No results found.")
					return nil
				}
				if resp.Degraded {
					cmd.Println("Query embedding failed; ranked by keyword overlap only.")
				}
				for _, r := range resp.Results {
					cmd.Printf("  [%d] %s:%d-%d (%.3f, %s)\n", r.Rank, r.Document.Path, r.StartLine, r.EndLine, r.CombinedScore, r.Method)
					if snippet := firstLine(r.Content); snippet != "" {
						cmd.Printf("      %s\n", snippet)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", searcher.DefaultLimit, "maximum number of results")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(searcher.SearchModeHybrid), "search mode: hybrid, vector or keyword")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	cmd.Flags().BoolVar(&noIndex, "no-index", false, "search the stored index without refreshing it")
	return cmd
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				stats := c.Engine().GetStatistics()
				stored, err := c.Storage().Stats(ctx)
				if err != nil {
					return err
				}

				cmd.Printf("Files:           %d\n", stats.TotalFiles)
				cmd.Printf("Chunks:          %d\n", stats.TotalChunks)
				cmd.Printf("Vectors:         %d\n", stats.VectorStoreCount)
				cmd.Printf("Keyword entries: %d\n", stats.KeywordIndexCount)
				cmd.Printf("Weights:         vector %.2f, keyword %.2f\n", stats.VectorWeight, stats.KeywordWeight)
				cmd.Printf("Fetch enabled:   %v\n", stats.FetchEnabled)
				if !stats.LastIndexedAt.IsZero() {
					cmd.Printf("Last indexed:    %s\n", stats.LastIndexedAt.Format("2006-01-02 15:04:05"))
				}
				cmd.Printf("Database:        %.2f MB, schema %s (%s)\n",
					float64(stored.SizeBytes)/(1024*1024), stored.SchemaVersion, stored.BuildMode)
				return nil
			})
		},
	}
}

func newResourcesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:       "resources [documents|directories|references]",
		Short:     "List indexed resources",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{searcher.ResourceDocuments, searcher.ResourceDirectories, searcher.ResourceReferences},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := searcher.ResourceDocuments
			if len(args) == 1 {
				kind = args[0]
			}
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				resources, err := c.Engine().ListResources(kind)
				if err != nil {
					return err
				}
				for _, r := range resources {
					cmd.Println(r)
				}
				return nil
			})
		},
	}
}

func newFetchCmd(opts *options) *cobra.Command {
	var (
		format string
		save   bool
	)

	cmd := &cobra.Command{
		Use:   "fetch [url]",
		Short: "Fetch an external page as clean text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				f, err := c.Fetcher()
				if err != nil {
					return err
				}
				if !save {
					content, err := f.Fetch(ctx, args[0], format)
					if err != nil {
						return err
					}
					cmd.Print(string(content))
					return nil
				}

				path, err := f.Save(ctx, args[0], format)
				if err != nil {
					return err
				}
				cmd.Printf("Saved %s\n", path)
				_, err = c.Reindex(ctx, false)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", fetcher.FormatMarkdown, "return format: markdown, html or text")
	cmd.Flags().BoolVarP(&save, "save", "s", false, "save into the references directory and re-index")
	return cmd
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			if len(line) > 100 {
				return line[:100] + "..."
			}
			return line
		}
	}
	return ""
}
