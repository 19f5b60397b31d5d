package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/DevHatRo/clamav-instream-go/events"
	"github.com/DevHatRo/clamav-instream-go/filestore"
	"github.com/DevHatRo/clamav-instream-go/notify"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// pipeline is a file store with the scanner bound to an event bus.
type pipeline struct {
	store *filestore.Local
	bus   *events.Bus
	// center is nil when notifications are only logged.
	center *notify.Center
}

// newPipeline wires the scanner to a store and a bus. With inbox set,
// notifications are also kept in a Center for the command to print.
func newPipeline(opts *options, storeDir string, workers int, m *clamav.Metrics, inbox bool) (*pipeline, error) {
	store, err := filestore.OpenLocal(storeDir)
	if err != nil {
		return nil, err
	}

	var center *notify.Center
	var notifier clamav.Notifier = notify.Log{Logger: opts.logger}
	if inbox {
		center = notify.NewCenter()
		notifier = notify.Multi{center, notifier}
	}
	scannerOpts := []clamav.ScannerOption{
		clamav.WithScannerLogger(opts.logger),
		clamav.WithNotifier(notifier),
	}
	if m != nil {
		scannerOpts = append(scannerOpts, clamav.WithScannerMetrics(m))
	}
	scanner := clamav.NewScanner(opts.client(m), opts.provider(), store, scannerOpts...)

	bus := events.NewBus(events.WithWorkers(workers), events.WithLogger(opts.logger))
	scanner.Register(bus)

	return &pipeline{store: store, bus: bus, center: center}, nil
}

func (p *pipeline) Close() error {
	p.bus.Close()
	return p.store.Close()
}

func newUploadCmd(opts *options) *cobra.Command {
	var storeDir, user string

	cmd := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Copy files into the store and scan them",
		Long:  `The upload command copies files into a local store and runs the upload scan on each. Infected uploads are deleted from the store.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPipeline(opts, storeDir, 1, nil, true)
			if err != nil {
				return err
			}
			defer p.Close()

			var current *clamav.User
			if user != "" {
				current = &clamav.User{ID: user, Login: user}
			}

			out := cmd.OutOrStdout()
			rejected := false
			for _, path := range args {
				f, err := ingest(cmd.Context(), p.store, path)
				if err != nil {
					return err
				}
				ev := &clamav.UploadEvent{File: f, CurrentUser: current}
				p.bus.Trigger(cmd.Context(), events.TopicUpload, ev)

				if ev.File == nil {
					rejected = true
					fmt.Fprintf(out, "%s: %s\n", path, color.RedString("rejected"))
					continue
				}
				fmt.Fprintf(out, "%s: %s %s\n", path, color.GreenString("stored"), f.ID)
			}

			uid := ""
			if current != nil {
				uid = current.ID
			}
			for _, n := range p.center.ForUser(uid) {
				fmt.Fprintf(out, "%s %s\n", color.New(color.FgRed, color.Bold).Sprint(n.Data.Title+":"), n.Data.Message)
			}

			if rejected {
				return errInfected
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&storeDir, "store", "clamav-store", "Directory of the local file store")
	cmd.Flags().StringVar(&user, "user", "", "User to attribute uploads to")
	return cmd
}

func ingest(ctx context.Context, store *filestore.Local, path string) (*clamav.File, error) {
	src, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	f, err := store.Put(ctx, filepath.Base(path), src)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", path, err)
	}
	return f, nil
}
