package clamav

import (
	"context"
	"math"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Dialer opens connections to the daemon. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDialer sets a custom dialer. The connect timeout from ScanConfig is
// still applied through the dial context.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithChunkSize sets the maximum payload size of one INSTREAM frame
// (default: 256KB). Sizes that are not positive or do not fit the 32-bit
// frame length prefix are ignored.
func WithChunkSize(size int) ClientOption {
	return func(c *Client) {
		if size > 0 && int64(size) <= math.MaxUint32 {
			c.chunkSize = size
		}
	}
}

// WithLogger sets the logger used for protocol debug output.
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics records bytes sent and transmit durations in m.
func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// ScannerOption configures the Scanner.
type ScannerOption func(*Scanner)

// WithNotifier sets the notifier used to tell users about deleted files.
// Without one, infected files are still deleted but nobody is notified.
func WithNotifier(n Notifier) ScannerOption {
	return func(s *Scanner) {
		s.notifier = n
	}
}

// WithScannerLogger sets the scanner logger.
func WithScannerLogger(l zerolog.Logger) ScannerOption {
	return func(s *Scanner) {
		s.logger = l
	}
}

// WithScannerMetrics records one outcome per scan in m.
func WithScannerMetrics(m *Metrics) ScannerOption {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// WithClock overrides the time source used for notification expiry.
func WithClock(now func() time.Time) ScannerOption {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotificationTTL sets how long a threat notification stays visible
// (default: 30s). Non-positive durations are ignored.
func WithNotificationTTL(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		if d > 0 {
			s.notificationTTL = d
		}
	}
}
