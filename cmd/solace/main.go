package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/solacehq/solace"
	"github.com/solacehq/solace/internal/service/corpus"
)

// version is set at build time via -ldflags.
var version = "dev"

var logger *slog.Logger

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		if logger != nil {
			logger.Error("fatal error", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		cancel()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "solace",
		Short:         "Verse retrieval and counselling advice service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (non-fatal; production won't have one).
			_ = godotenv.Load()
			l, err := newLogger(os.Getenv("SOLACE_LOG_LEVEL"))
			if err != nil {
				return err
			}
			logger = l
			slog.SetDefault(logger)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(versesCmd())
	return root
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
			return nil, fmt.Errorf("invalid SOLACE_LOG_LEVEL %q: %w", level, err)
		}
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})), nil
}

func options() []solace.Option {
	return []solace.Option{
		solace.WithVersion(version),
		solace.WithLogger(logger),
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and MCP server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	app, err := solace.New(options()...)
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := solace.Migrate(cmd.Context(), options()...); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func versesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verses",
		Short: "Maintain the verse corpus",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import verses from a YAML or JSON file (- reads stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, app *solace.App, args []string) error {
			n, err := app.ImportVerses(ctx, args[0])
			if err != nil {
				return err
			}
			logger.Info("verses imported", "file", args[0], "count", n)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "embed",
		Short: "Embed every verse that has no embedding yet",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, app *solace.App, _ []string) error {
			res, err := app.EmbedVerses(ctx)
			if err != nil {
				return err
			}
			logger.Info("verses embedded", "embedded", res.Embedded, "failed", res.Failed)
			if res.Failed > 0 {
				return fmt.Errorf("%d verses could not be embedded; rerun to retry", res.Failed)
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "index",
		Short: "Copy embedded verses into the Qdrant index",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, app *solace.App, _ []string) error {
			n, err := app.SyncIndex(ctx)
			if errors.Is(err, corpus.ErrNoIndex) {
				return fmt.Errorf("QDRANT_URL is not set: %w", err)
			}
			if err != nil {
				return err
			}
			logger.Info("verses indexed", "count", n)
			return nil
		}),
	})
	return cmd
}

// withApp builds the App for a one-shot command and releases it afterwards.
func withApp(fn func(ctx context.Context, app *solace.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		app, err := solace.New(options()...)
		if err != nil {
			return err
		}
		defer app.Close()
		return fn(cmd.Context(), app, args)
	}
}
