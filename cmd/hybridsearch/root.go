package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dshills/hybridsearch/internal/app"
	"github.com/dshills/hybridsearch/internal/config"
	"github.com/dshills/hybridsearch/internal/storage"
)

// options holds the persistent flags shared by every subcommand
type options struct {
	configPath string
	envFile    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "hybridsearch",
		Short: "Hybrid semantic and keyword search over a document workspace",
		Long: `hybridsearch indexes the documents of a workspace and answers queries by
fusing embedding similarity with keyword overlap. It runs as an MCP server
over stdio or as a one-shot command line tool.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env file is fine; explicit ones must load
			if err := godotenv.Load(opts.envFile); err != nil {
				if opts.envFile != ".env" || !errors.Is(err, fs.ErrNotExist) {
					return err
				}
			}
			level := slog.LevelInfo
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}
	cmd.SetVersionTemplate(`hybridsearch {{.Version}}
Build Time: ` + buildTime + `
Build Mode: ` + storage.BuildMode + `
SQLite Driver: ` + storage.DriverName + "\n")

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultFileName, "path to the TOML configuration file")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with API keys")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newIndexCmd(opts),
		newSearchCmd(opts),
		newStatsCmd(opts),
		newResourcesCmd(opts),
		newFetchCmd(opts),
	)
	return cmd
}

// open loads configuration and builds the container
func (o *options) open(ctx context.Context) (*app.Container, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg)
}

// withContainer runs fn against a container that is closed afterwards
func (o *options) withContainer(cmd *cobra.Command, fn func(context.Context, *app.Container) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := o.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, c)
}

func init() {
	// Keep stdout clean for the MCP transport even before PersistentPreRunE runs
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}
