package main

import (
	"errors"
	"fmt"
	"io"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/DevHatRo/clamav-instream-go/settings"
	"github.com/spf13/cobra"
)

var errNoSettingsDB = errors.New("--settings-db is required")

func newSettingsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change scanner settings",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get [key]",
			Short: "Print the resolved scanner settings",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				keys := settings.Keys
				if len(args) == 1 {
					keys = args
				}
				printSettings(cmd.OutOrStdout(), opts.provider(), keys)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Store a setting in the settings database",
			Long:  `The set command validates and stores a setting. An empty value clears it so the default applies.`,
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if opts.bolt == nil {
					return errNoSettingsDB
				}
				return opts.bolt.Set(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "import <file.yaml>",
			Short: "Import settings from a YAML file into the settings database",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if opts.bolt == nil {
					return errNoSettingsDB
				}
				return settings.LoadYAML(args[0], opts.bolt)
			},
		},
	)
	return cmd
}

// printSettings writes each key with its raw value and the configuration it
// resolves to.
func printSettings(w io.Writer, s clamav.Settings, keys []string) {
	cfg := clamav.ResolveConfig(s)
	for _, key := range keys {
		raw := s.Get(key)
		if raw == "" {
			raw = "(unset)"
		}
		fmt.Fprintf(w, "%s = %s -> %s\n", key, raw, effective(cfg, key))
	}
}

func effective(cfg clamav.ScanConfig, key string) string {
	switch key {
	case clamav.SettingHostPort:
		return cfg.Addr()
	case clamav.SettingMaxScanLength:
		return fmt.Sprint(cfg.MaxScanLength)
	case clamav.SettingConnectionTimeout:
		return cfg.ConnectTimeout.String()
	case clamav.SettingResponseTimeout:
		return cfg.ResponseTimeout.String()
	}
	return "-"
}
