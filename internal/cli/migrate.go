package cli

import (
	"github.com/spf13/cobra"

	"github.com/mediaverse/hub/internal/store"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Database string
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the hub database schema",
		Long: `Open the SQLite database, creating it if absent, and apply any
pending schema migrations. Serve and import do this too; migrate
exists for provisioning and health checks.

Example:
  hub migrate --db ./hub.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "migration failed", err)
			}
			defer st.Close()

			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
			if opts.Format == "json" {
				return formatter.Success(map[string]any{"database": opts.Database, "schema": "current"})
			}
			return formatter.Success("database schema is current")
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}
