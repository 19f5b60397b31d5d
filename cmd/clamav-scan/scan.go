package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newScanCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scan <path>...",
		Short: "Scan local files",
		Long:  `The scan command streams each file to clamd and prints the verdict. It exits with status 1 if any file is infected.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client(nil)
			out := cmd.OutOrStdout()

			var infected bool
			var errs []error
			for _, path := range args {
				outcome, err := scanPath(cmd.Context(), client, clamav.ResolveConfig(opts.provider()), path)
				if err != nil {
					opts.logger.Error().Err(err).Str("path", path).Msg("failed to scan file")
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				printOutcome(out, path, outcome)
				if outcome.IsInfected() {
					infected = true
				}
			}

			if err := errors.Join(errs...); err != nil {
				return err
			}
			if infected {
				return errInfected
			}
			return nil
		},
	}
}

func scanPath(ctx context.Context, client *clamav.Client, cfg clamav.ScanConfig, path string) (clamav.Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return clamav.Outcome{}, err
	}
	defer f.Close()

	return client.Scan(ctx, cfg, f)
}

func printOutcome(w io.Writer, path string, o clamav.Outcome) {
	var verdict string
	switch o.Verdict {
	case clamav.VerdictClean:
		verdict = color.GreenString("OK")
	case clamav.VerdictInfected:
		verdict = color.New(color.FgRed, color.Bold).Sprintf("FOUND %s", o.Signature())
	case clamav.VerdictError:
		verdict = color.YellowString("ERROR %s", o.Detail())
	default:
		verdict = color.YellowString("UNKNOWN %q", o.Detail())
	}
	fmt.Fprintf(w, "%s: %s\n", path, verdict)
}
