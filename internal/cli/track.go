package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	beacon "github.com/Tap30/beacon-go"
)

// ClientEnv configures the track commands.
type ClientEnv struct {
	Endpoint      string        `env:"BEACON_ENDPOINT,required,notEmpty"`
	DevEndpoint   string        `env:"BEACON_DEV_ENDPOINT"`
	Environment   string        `env:"BEACON_ENV" envDefault:"production"`
	AddOnName     string        `env:"BEACON_ADDON_NAME" envDefault:"beacon-cli"`
	AllowInsecure bool          `env:"BEACON_ALLOW_INSECURE"`
	Timeout       time.Duration `env:"BEACON_TIMEOUT" envDefault:"10s"`
}

// ParseClientEnv reads ClientEnv from the process environment.
func ParseClientEnv() (ClientEnv, error) {
	var cfg ClientEnv
	if err := env.Parse(&cfg); err != nil {
		return ClientEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// TrackOptions holds flags shared by the track subcommands.
type TrackOptions struct {
	*RootOptions
	UserID string
	Extras map[string]string
}

var errNotAccepted = errors.New("beacon was not accepted")

// NewTrackCommand creates the track command and its subcommands.
func NewTrackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TrackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Send a beacon to an ingestion endpoint",
		Long: `Send a single beacon the way an add-on would.

The endpoint is read from the environment:
  BEACON_ENDPOINT        production endpoint (required)
  BEACON_DEV_ENDPOINT    development endpoint (defaults to BEACON_ENDPOINT)
  BEACON_ENV             production or development (default production)
  BEACON_ADDON_NAME      add-on name (default beacon-cli)
  BEACON_ALLOW_INSECURE  allow plain http endpoints
  BEACON_TIMEOUT         request timeout (default 10s)`,
	}

	cmd.PersistentFlags().StringVarP(&opts.UserID, "user", "u", "", "user id to report (required)")
	cmd.PersistentFlags().StringToStringVarP(&opts.Extras, "extra", "x", nil, "extension field as key=value (repeatable)")
	_ = cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(newTrackUserCommand(opts))
	cmd.AddCommand(newTrackEventCommand(opts))
	cmd.AddCommand(newTrackErrorCommand(opts))
	cmd.AddCommand(newTrackPulseCommand(opts))

	return cmd
}

func newTrackUserCommand(opts *TrackOptions) *cobra.Command {
	var hostEnv beacon.HostEnvironment

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Report the user and device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(cmd, opts, hostEnv, func(ctx context.Context, c *beacon.Client) (bool, error) {
				return c.TrackUser(ctx, opts.Extras), nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&hostEnv.APIVersion, "api-version", "", "host API version")
	f.StringVar(&hostEnv.AddOnVersion, "addon-version", "", "add-on version")
	f.BoolVar(&hostEnv.PremiumUser, "premium", false, "user has a premium subscription")
	f.StringVar(&hostEnv.Platform.Name, "platform", "", "platform name")
	f.StringVar(&hostEnv.Platform.DeviceClass, "device-class", "", "device class")
	f.BoolVar(&hostEnv.Platform.InAppPurchaseAllowed, "iap-allowed", false, "in-app purchases are allowed")
	f.StringVar(&hostEnv.UI.Format, "format", "", "UI format")
	f.StringVar(&hostEnv.UI.Locale, "locale", "", "UI locale")
	f.StringVar(&hostEnv.UI.Theme, "theme", "", "UI theme")
	f.IntVar(&hostEnv.Screen.Width, "screen-width", 0, "screen width")
	f.IntVar(&hostEnv.Screen.Height, "screen-height", 0, "screen height")
	f.IntVar(&hostEnv.Screen.ColorDepth, "color-depth", 0, "screen color depth")
	f.IntVar(&hostEnv.Screen.PixelDepth, "pixel-depth", 0, "screen pixel depth")
	f.BoolVar(&hostEnv.SimulateFreeUser, "simulate-free-user", false, "development only: simulate a free user")

	return cmd
}

func newTrackEventCommand(opts *TrackOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "event <name>",
		Short: "Report a custom event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(cmd, opts, beacon.HostEnvironment{}, func(ctx context.Context, c *beacon.Client) (bool, error) {
				return c.TrackEvent(ctx, args[0], opts.Extras)
			})
		},
	}
}

func newTrackErrorCommand(opts *TrackOptions) *cobra.Command {
	var (
		info      beacon.ErrorInfo
		stackFile string
	)

	cmd := &cobra.Command{
		Use:   "error",
		Short: "Report an error with an optional stack trace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if stackFile != "" {
				stack, err := os.ReadFile(stackFile)
				if err != nil {
					return fmt.Errorf("read stack file: %w", err)
				}
				info.Stack = string(stack)
			}
			return runTrack(cmd, opts, beacon.HostEnvironment{}, func(ctx context.Context, c *beacon.Client) (bool, error) {
				return c.TrackError(ctx, info, opts.Extras), nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&info.Name, "name", "", "error name (required)")
	f.StringVar(&info.Message, "message", "", "error message (required)")
	f.StringVar(&info.Cause, "cause", "", "underlying cause")
	f.StringVar(&stackFile, "stack-file", "", "file holding the stack trace")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("message")

	return cmd
}

func newTrackPulseCommand(opts *TrackOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pulse",
		Short: "Report a single liveness pulse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(cmd, opts, beacon.HostEnvironment{}, func(ctx context.Context, c *beacon.Client) (bool, error) {
				return c.TrackPulse(ctx), nil
			})
		},
	}
}

func runTrack(cmd *cobra.Command, opts *TrackOptions, hostEnv beacon.HostEnvironment, send func(context.Context, *beacon.Client) (bool, error)) error {
	cfg, err := ParseClientEnv()
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	client, err := beacon.NewClient(beacon.ClientConfig{
		Host: &beacon.StaticHost{
			Name: cfg.AddOnName,
			User: opts.UserID,
			Env:  hostEnv,
		},
		Endpoint:      cfg.Endpoint,
		DevEndpoint:   cfg.DevEndpoint,
		Environment:   beacon.Environment(cfg.Environment),
		AllowInsecure: cfg.AllowInsecure,
		LoggerAdapter: slogAdapter{logger: logger},
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
	defer cancel()

	ok, err := send(ctx, client)
	if err != nil {
		return err
	}
	if !ok {
		return errNotAccepted
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Processed")
	return nil
}

// slogAdapter routes client diagnostics to slog.
type slogAdapter struct {
	logger *slog.Logger
}

var _ beacon.LoggerAdapter = slogAdapter{}

func (a slogAdapter) Debug(message string, args ...any) {
	a.logger.Debug(fmt.Sprintf(message, args...))
}

func (a slogAdapter) Info(message string, args ...any) {
	a.logger.Info(fmt.Sprintf(message, args...))
}

func (a slogAdapter) Warn(message string, args ...any) {
	a.logger.Warn(fmt.Sprintf(message, args...))
}

func (a slogAdapter) Error(message string, args ...any) {
	a.logger.Error(fmt.Sprintf(message, args...))
}
