package clamav

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	// CommandInstream switches the daemon into chunked stream mode.
	CommandInstream = "zINSTREAM\x00"
	// DefaultChunkSize is the largest payload sent in one frame.
	DefaultChunkSize = 256 * 1024
	// MaxReplySize is the largest reply read from the daemon.
	MaxReplySize = 1024

	frameHeaderSize = 4
	maxEmptyReads   = 100
)

var terminator = []byte{0, 0, 0, 0}

// Client speaks the clamd INSTREAM protocol over TCP.
// It is safe for concurrent use from multiple goroutines; every call opens
// its own connection.
type Client struct {
	dialer    Dialer
	chunkSize int
	logger    zerolog.Logger
	metrics   *Metrics
}

// NewClient creates an INSTREAM client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		dialer:    &net.Dialer{},
		chunkSize: DefaultChunkSize,
		logger:    zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Scan streams r to the daemon and interprets its reply.
func (c *Client) Scan(ctx context.Context, cfg ScanConfig, r io.Reader) (Outcome, error) {
	reply, err := c.Transmit(ctx, cfg, r)
	if err != nil {
		return Outcome{}, err
	}
	return Interpret(reply), nil
}

// Transmit streams up to cfg.MaxScanLength bytes of r to the daemon and
// returns its reply without the trailing NUL and anything after it.
//
// The connection is dialed within cfg.ConnectTimeout. Every read and write
// after that must complete within cfg.ResponseTimeout. ctx only bounds the
// dial.
func (c *Client) Transmit(ctx context.Context, cfg ScanConfig, r io.Reader) ([]byte, error) {
	start := time.Now()
	addr := cfg.Addr()

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	raw, err := c.dialer.DialContext(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return nil, NewConnectError(fmt.Sprintf("failed to connect to clamd at %s", addr), err)
	}
	conn := &timeoutConn{Conn: raw, timeout: cfg.ResponseTimeout}
	defer conn.Close() //nolint:errcheck // nothing useful to do with a close error

	c.logger.Debug().Str("addr", addr).Msg("connected to clamd")

	if err := writeFull(conn, []byte(CommandInstream)); err != nil {
		return nil, NewSendError("failed to send INSTREAM command", err)
	}

	sent, err := c.sendFrames(conn, r, cfg.MaxScanLength)
	if err != nil {
		return nil, err
	}

	if err := writeFull(conn, terminator); err != nil {
		return nil, NewSendError("failed to send end of stream", err)
	}

	reply, err := readReply(conn)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.observeTransmit(sent, time.Since(start))
	}
	c.logger.Debug().
		Str("addr", addr).
		Int64("bytes", sent).
		Bytes("reply", reply).
		Msg("clamd replied")

	return reply, nil
}

// sendFrames writes r as length-prefixed frames, never sending more than
// limit payload bytes in total. It returns the number of payload bytes sent.
func (c *Client) sendFrames(w io.Writer, r io.Reader, limit int64) (int64, error) {
	frame := make([]byte, frameHeaderSize+c.chunkSize)
	var total int64

	for total < limit {
		want := int64(c.chunkSize)
		if rem := limit - total; rem < want {
			want = rem
		}

		n, readErr := fill(r, frame[frameHeaderSize:frameHeaderSize+int(want)])
		if n > 0 {
			binary.BigEndian.PutUint32(frame[:frameHeaderSize], uint32(n))
			if err := writeFull(w, frame[:frameHeaderSize+n]); err != nil {
				return total, NewSendError(fmt.Sprintf("failed to send %d byte chunk", n), err)
			}
			total += int64(n)
		}

		// A stream that keeps returning nothing has ended as far as the
		// daemon is concerned.
		if readErr == io.EOF || readErr == io.ErrNoProgress {
			break
		}
		if readErr != nil {
			return total, NewReadError("failed to read input stream", readErr)
		}
	}

	return total, nil
}

// fill reads into p until it is full or r fails. It returns io.ErrNoProgress
// after maxEmptyReads consecutive reads that return no data and no error.
func fill(r io.Reader, p []byte) (int, error) {
	n, empty := 0, 0
	for n < len(p) {
		m, err := r.Read(p[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m > 0 {
			empty = 0
			continue
		}
		empty++
		if empty >= maxEmptyReads {
			return n, io.ErrNoProgress
		}
	}
	return n, nil
}

// readReply reads until a NUL, EOF, or MaxReplySize bytes.
func readReply(r io.Reader) ([]byte, error) {
	buf := make([]byte, MaxReplySize)
	n := 0

	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if bytes.IndexByte(buf[n-m:n], 0) >= 0 {
			break
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			// A partial line followed by silence is still a reply.
			if isTimeout(err) && n > 0 {
				break
			}
			if isTimeout(err) {
				return nil, NewResponseTimeoutError("timed out waiting for clamd reply", err)
			}
			return nil, NewReadError("failed to read clamd reply", err)
		}
	}

	return trimAtNUL(buf[:n]), nil
}

// writeFull writes all of p, looping over short writes.
func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// timeoutConn applies a fresh deadline before every read and write.
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

func (c *timeoutConn) Read(p []byte) (int, error) {
	if err := c.Conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Read(p)
}

func (c *timeoutConn) Write(p []byte) (int, error) {
	if err := c.Conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return 0, err
	}
	return c.Conn.Write(p)
}
