package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediaverse/hub/internal/bus"
	"github.com/mediaverse/hub/internal/media"
	"github.com/mediaverse/hub/internal/prodconfig"
	"github.com/mediaverse/hub/internal/queue"
	"github.com/mediaverse/hub/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database string
	Workers  int
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <product-folder>...",
		Short: "Import product folders into the catalog",
		Long: `Register each product folder's prod.json and import its media files.
Duplicate content (same SHA-256) is skipped.

Example:
  hub import --db ./hub.db ./media/earbuds-sku-001
  hub import --db ./hub.db ./media/*`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "number of import workers")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runImport(opts *ImportOptions, dirs []string, cmd *cobra.Command) error {
	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	evb := bus.New(bus.WithLogger(logger))
	q := queue.New(queue.WithBus(evb), queue.WithLogger(logger))
	pool := queue.NewPool(q, opts.Workers, evb, logger)
	importer := media.NewImporter(st, prodconfig.NewLibrary(), q, evb, logger)
	if err := importer.RegisterHandlers(pool); err != nil {
		return WrapExitError(ExitCommandError, "failed to register job handlers", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	total := 0
	summaries := make([]*media.Summary, 0, len(dirs))
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid path %s", dir), err)
		}
		summary, err := importer.ImportProductFolder(abs)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("import %s failed", dir), err)
		}
		summaries = append(summaries, summary)
		total += summary.Enqueued
	}

	pool.Start(cmd.Context())
	waitForDrain(pool, int64(total))
	pool.Stop()
	q.Close()

	stats := pool.Stats()
	if opts.Format == "json" {
		return formatter.Success(map[string]any{
			"products": summaries,
			"imported": stats["completed"],
			"failed":   stats["failed"],
			"dead":     stats["dead"],
		})
	}

	out := cmd.OutOrStdout()
	for _, s := range summaries {
		fmt.Fprintf(out, "%s: %d media files enqueued\n", s.SKU, s.Enqueued)
	}
	fmt.Fprintf(out, "imported %d, failed %d\n", stats["completed"], stats["failed"])
	if dead, ok := stats["dead"].(int64); ok && dead > 0 {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d imports dead-lettered", dead), nil)
	}
	return nil
}

// waitForDrain blocks until every enqueued job reached a terminal
// state, completed or dead-lettered.
func waitForDrain(pool *queue.Pool, total int64) {
	for {
		stats := pool.Stats()
		completed, _ := stats["completed"].(int64)
		dead, _ := stats["dead"].(int64)
		if completed+dead >= total {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
}
