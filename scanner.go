package clamav

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// HandlerName is the name the scanner registers under on an EventBus.
const HandlerName = "clamav.scan"

// DefaultNotificationTTL is how long a threat notification stays visible.
const DefaultNotificationTTL = 30 * time.Second

// Scanner scans uploaded files and deletes the infected ones.
//
// Scanning fails open: when the daemon is unreachable, slow or replies with
// something unexpected the file is kept and the failure is only logged.
type Scanner struct {
	client          *Client
	settings        Settings
	files           FileStore
	notifier        Notifier
	logger          zerolog.Logger
	metrics         *Metrics
	now             func() time.Time
	notificationTTL time.Duration
}

// NewScanner creates a Scanner. settings is read on every scan.
func NewScanner(client *Client, settings Settings, files FileStore, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		client:          client,
		settings:        settings,
		files:           files,
		logger:          zerolog.Nop(),
		now:             time.Now,
		notificationTTL: DefaultNotificationTTL,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.client == nil {
		s.client = NewClient(WithLogger(s.logger))
	}
	s.logger = s.logger.With().Str("component", "clamav").Logger()

	return s
}

// Register binds ScanOnUpload on bus as the single handler named HandlerName.
func (s *Scanner) Register(bus EventBus) {
	bus.OnFileUploaded(HandlerName, s.ScanOnUpload)
}

// ScanOnUpload scans the file referenced by ev. It never fails: errors are
// logged and the file is left in place. When the file is infected it is
// removed, ev.File is set to nil and the uploading user is notified.
func (s *Scanner) ScanOnUpload(ctx context.Context, ev *UploadEvent) {
	if ev == nil || ev.File == nil || ev.File.ID == "" {
		return
	}
	id := ev.File.ID

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("file_id", id).Interface("panic", r).Msg("scan panicked; keeping file")
			s.record(OutcomeFailed)
		}
	}()

	file, err := s.files.Load(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("file_id", id).Msg("failed to load file for scanning")
		return
	}
	if file == nil || file.ID == "" {
		return
	}

	log := s.logger.With().Str("file_id", file.ID).Str("file_name", file.Name).Logger()

	outcome, err := s.scan(ctx, file, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to scan file with clamav")
		s.record(OutcomeFailed)
		return
	}
	s.record(outcome.Verdict.String())

	switch outcome.Verdict {
	case VerdictClean:
		log.Info().Msg("scanned file: OK")
	case VerdictError:
		log.Info().Str("reply", outcome.Detail()).Msg("scan errored; keeping file")
	case VerdictInfected:
		log.Info().Str("reply", outcome.Detail()).Str("signature", outcome.Signature()).Msg("found issue; deleting file")
		s.reject(ctx, ev, file, log)
	default:
		log.Debug().Str("reply", outcome.Detail()).Msg("unknown clamd response; keeping file")
	}
}

func (s *Scanner) scan(ctx context.Context, file *File, log zerolog.Logger) (Outcome, error) {
	cfg := ResolveConfig(s.settings)
	log.Debug().Str("addr", cfg.Addr()).Msg("connecting to clamav")

	rc, err := s.files.Open(ctx, file)
	if err != nil {
		return Outcome{}, fmt.Errorf("open file %s: %w", file.ID, err)
	}
	defer rc.Close() //nolint:errcheck // read-only stream

	log.Debug().Msg("scanning file")
	return s.client.Scan(ctx, cfg, rc)
}

func (s *Scanner) reject(ctx context.Context, ev *UploadEvent, file *File, log zerolog.Logger) {
	if err := s.files.Remove(ctx, file); err != nil {
		log.Error().Err(err).Msg("failed to delete infected file")
		return
	}
	ev.File = nil

	if s.notifier == nil {
		return
	}
	n := Notification{
		Type: NotificationTypeProgress,
		Data: ProgressData{
			Title:   "Security threat found",
			Message: fmt.Sprintf("File %s deleted.", file.Name),
			Total:   1,
			Current: 1,
			State:   ProgressError,
		},
		User:    ev.CurrentUser,
		Expires: s.now().Add(s.notificationTTL),
	}
	if err := s.notifier.CreateNotification(ctx, n); err != nil {
		log.Error().Err(err).Msg("failed to send threat notification")
	}
}

func (s *Scanner) record(outcome string) {
	if s.metrics != nil {
		s.metrics.observeOutcome(outcome)
	}
}
