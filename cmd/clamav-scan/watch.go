package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	clamav "github.com/DevHatRo/clamav-instream-go"
	"github.com/DevHatRo/clamav-instream-go/events"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *options) *cobra.Command {
	var (
		storeDir       string
		metricsAddr    string
		workers        int
		settle         time.Duration
		removeInfected bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Scan files as they appear in a directory",
		Long: `The watch command ingests every new file in a directory into the local store and scans it in the background.
Scanning fails open: when clamd is unavailable files are stored and only the failure is logged.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			m := clamav.NewMetrics(reg)

			p, err := newPipeline(opts, storeDir, workers, m, false)
			if err != nil {
				return err
			}
			defer p.Close()

			if metricsAddr != "" {
				srv := &http.Server{
					Addr:              metricsAddr,
					Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						opts.logger.Error().Err(err).Msg("metrics server failed")
					}
				}()
				defer srv.Close()
				opts.logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
			}

			w := &dirWatcher{
				dir:            args[0],
				settle:         settle,
				removeInfected: removeInfected,
				pipeline:       p,
				logger:         opts.logger.With().Str("component", "watcher").Logger(),
			}
			return w.run(ctx)
		},
	}

	cmd.Flags().StringVar(&storeDir, "store", "clamav-store", "Directory of the local file store")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().IntVar(&workers, "workers", 4, "Concurrent scans")
	cmd.Flags().DurationVar(&settle, "settle", 500*time.Millisecond, "Quiet period after the last write before a file is ingested")
	cmd.Flags().BoolVar(&removeInfected, "remove-infected", false, "Also delete infected files from the watched directory")
	return cmd
}

// dirWatcher turns files written into dir into upload events.
type dirWatcher struct {
	dir            string
	settle         time.Duration
	removeInfected bool
	pipeline       *pipeline
	logger         zerolog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup

	// sources maps queued events to the watched path they came from.
	sources sync.Map
}

func (w *dirWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return err
	}
	w.timers = make(map[string]*time.Timer)
	w.pipeline.bus.OnFileUploaded("watch.cleanup", w.cleanup)
	w.logger.Info().Str("dir", w.dir).Msg("watching directory for uploads")

	defer func() {
		w.mu.Lock()
		for _, t := range w.timers {
			if t.Stop() {
				w.wg.Done()
			}
		}
		w.mu.Unlock()
		w.wg.Wait()
		w.pipeline.bus.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("stopping watcher")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(ctx, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("file watcher error")
		}
	}
}

// schedule ingests path once it has been quiet for w.settle.
func (w *dirWatcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.settle)
		return
	}

	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.settle, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] == t {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
	w.timers[path] = t
}

func (w *dirWatcher) ingest(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	f, err := ingest(ctx, w.pipeline.store, path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", path).Msg("failed to ingest upload")
		return
	}
	w.logger.Info().Str("path", path).Str("file_id", f.ID).Msg("ingested upload")

	ev := &clamav.UploadEvent{File: f}
	w.sources.Store(ev, path)
	if err := w.pipeline.bus.TriggerAsync(ctx, events.TopicUpload, ev); err != nil {
		w.sources.Delete(ev)
		w.logger.Error().Err(err).Str("path", path).Msg("failed to queue scan")
	}
}

// cleanup runs after the scanner. A nil file means the upload was rejected.
func (w *dirWatcher) cleanup(_ context.Context, ev *clamav.UploadEvent) {
	v, ok := w.sources.LoadAndDelete(ev)
	if !ok || ev.File != nil {
		return
	}
	path := v.(string)
	if !w.removeInfected {
		w.logger.Warn().Str("path", path).Msg("infected upload removed from store")
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Error().Err(err).Str("path", path).Msg("failed to remove infected source file")
		return
	}
	w.logger.Warn().Str("path", path).Msg("removed infected source file")
}
