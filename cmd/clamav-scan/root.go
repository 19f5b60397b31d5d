package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/DevHatRo/clamav-instream-go/settings"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every command.
type options struct {
	logLevel     string
	envFile      string
	settingsDB   string
	settingsFile string
	hostPort     string

	logger   zerolog.Logger
	bolt     *settings.Bolt
	override *settings.Memory
}

// errInfected makes the process exit with status 1 after printing results.
var errInfected = errors.New("infected files found")

func exitCode(err error) int {
	if errors.Is(err, errInfected) {
		return 1
	}
	return 2
}

// run executes the command line in args and releases the settings database
// whether or not the command succeeded.
func run(args []string, stdout, stderr io.Writer) error {
	opts := &options{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if opts.bolt != nil {
		err = errors.Join(err, opts.bolt.Close())
	}
	return err
}

func newRootCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "clamav-scan",
		Short:         "Scan files with a ClamAV daemon",
		Long:          `clamav-scan streams files to clamd using the INSTREAM command and reports or removes infected ones.`,
		Version:       fmt.Sprintf("%s (%s)", Version, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd.ErrOrStderr())
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file with CLAMAV_* variables")
	flags.StringVar(&opts.settingsDB, "settings-db", "", "Path to a settings database")
	flags.StringVar(&opts.settingsFile, "settings-file", "", "YAML settings file imported before running")
	flags.StringVar(&opts.hostPort, "clamd", "", "clamd address as host:port (overrides settings)")

	cmd.AddCommand(
		newScanCmd(opts),
		newUploadCmd(opts),
		newWatchCmd(opts),
		newSettingsCmd(opts),
	)
	return cmd
}

func (o *options) setup(stderr io.Writer) error {
	level, err := zerolog.ParseLevel(o.logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", o.logLevel, err)
	}
	o.logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", o.envFile, err)
		}
	}

	if o.settingsDB != "" {
		b, err := settings.OpenBolt(o.settingsDB)
		if err != nil {
			return err
		}
		o.bolt = b
	}

	o.override = settings.NewMemory()
	if o.hostPort != "" {
		if err := o.override.Set(clamav.SettingHostPort, o.hostPort); err != nil {
			return fmt.Errorf("--clamd: %w", err)
		}
	}

	if o.settingsFile != "" {
		var dst settings.Setter = o.override
		if o.bolt != nil {
			dst = o.bolt
		}
		if err := settings.LoadYAML(o.settingsFile, dst); err != nil {
			return err
		}
	}
	return nil
}

// provider returns the settings chain: flags, then environment, then the
// settings database.
func (o *options) provider() clamav.Settings {
	chain := settings.Chain{o.override, settings.Env{}}
	if o.bolt != nil {
		chain = append(chain, o.bolt)
	}
	return chain
}

func (o *options) client(m *clamav.Metrics) *clamav.Client {
	clientOpts := []clamav.ClientOption{clamav.WithLogger(o.logger)}
	if m != nil {
		clientOpts = append(clientOpts, clamav.WithMetrics(m))
	}
	return clamav.NewClient(clientOpts...)
}
