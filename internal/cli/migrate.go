package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Tap30/beacon-go/internal/config"
	"github.com/Tap30/beacon-go/internal/storage/backend"
	"github.com/Tap30/beacon-go/internal/storage/postgres"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <up|down>",
		Short: "Apply or roll back the Postgres schema",
		Long: `Apply (up) or roll back (down) the Postgres schema named by
BEACON_STORAGE_CONNECTION. SQLite databases are migrated when opened and
the memory backend has no schema, so both are left alone.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.SlogLevel(), rootOpts.Verbose, cfg.IsProduction())
			return runMigrate(cmd, cfg.StorageConnection, args[0], logger.Info)
		},
	}
}

func runMigrate(cmd *cobra.Command, conn, direction string, info func(msg string, args ...any)) error {
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}
	kind, addr, err := backend.Parse(conn)
	if err != nil {
		return err
	}
	if kind != backend.KindPostgres {
		fmt.Fprintf(cmd.OutOrStdout(), "nothing to migrate for the %s backend\n", kind)
		return nil
	}

	info("running migrations", "direction", direction)
	if err := postgres.Migrate(addr, direction); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "migrations %s complete\n", direction)
	return nil
}
