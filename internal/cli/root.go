// Package cli implements the beacon command line: the ingestion server,
// schema migrations and a client for sending test beacons.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
}

// NewRootCommand creates the root command for the beacon CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "beacon",
		Short: "Analytics beacon ingestion and client tools",
		Long: `Beacon collects add-on telemetry sent as single-request URL beacons.

serve runs the ingestion endpoint, migrate manages the Postgres schema and
track sends a beacon the way an add-on would.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTrackCommand(opts))

	return cmd
}

// newLogger logs to stderr, as JSON in production and text elsewhere.
// verbose forces debug level.
func newLogger(level slog.Level, verbose, production bool) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if production {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
