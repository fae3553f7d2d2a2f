package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediaverse/hub/internal/store"
)

// StatsOptions holds flags for the stats command.
type StatsOptions struct {
	*RootOptions
	Database string
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog and ledger counts",
		Long: `Print entity counts from the hub database.

Example:
  hub stats --db ./hub.db
  hub stats --db ./hub.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStats(opts *StatsOptions, cmd *cobra.Command) error {
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	counts := []struct {
		name  string
		count func() (int, error)
	}{
		{"clients", st.CountClients},
		{"products", st.CountProducts},
		{"media", st.CountMedia},
		{"orders", st.CountOrders},
		{"posting_history", st.CountPostingHistory},
	}

	stats := make(map[string]int, len(counts))
	for _, c := range counts {
		n, err := c.count()
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("count %s", c.name), err)
		}
		stats[c.name] = n
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if opts.Format == "json" {
		return formatter.Success(stats)
	}

	out := cmd.OutOrStdout()
	for _, c := range counts {
		fmt.Fprintf(out, "%-16s %d\n", c.name, stats[c.name])
	}
	return nil
}
