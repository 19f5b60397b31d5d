// Package testutil provides test helpers for the clamav-instream-go module.
package testutil

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// Replies returned by a real clamd for the EICAR test file and friends.
var (
	ReplyClean    = []byte("stream: OK\x00")
	ReplyInfected = []byte("stream: Eicar-Test-Signature FOUND\x00")
	ReplyError    = []byte("stream: Parse error: ERROR\x00")
)

// Session records what one client sent on one connection.
type Session struct {
	// Command is the first 10 bytes sent.
	Command []byte
	// Frames holds the payload of every non-empty frame, in order.
	Frames [][]byte
	// Terminated is true once the zero-length frame was received.
	Terminated bool
}

// Payload returns all frame payloads concatenated.
func (s Session) Payload() []byte {
	var out []byte
	for _, f := range s.Frames {
		out = append(out, f...)
	}
	return out
}

// Server is a fake clamd that speaks just enough INSTREAM to record frames
// and answer with a canned reply.
type Server struct {
	ln    net.Listener
	reply []byte
	delay time.Duration
	// hang makes the server read the stream but never reply.
	hang bool

	mu       sync.Mutex
	sessions []Session
	wg       sync.WaitGroup
	done     chan struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithDelay waits d after the terminator before replying.
func WithDelay(d time.Duration) ServerOption {
	return func(s *Server) { s.delay = d }
}

// WithHang makes the server accept the stream and never reply.
func WithHang() ServerOption {
	return func(s *Server) { s.hang = true }
}

// NewServer starts a fake clamd on 127.0.0.1 replying with reply.
func NewServer(reply []byte, opts ...ServerOption) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("testutil: failed to listen: " + err.Error())
	}
	s := &Server{ln: ln, reply: reply, done: make(chan struct{})}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.serve()
	return s
}

// HostPort returns the listen address as "host:port".
func (s *Server) HostPort() string {
	return s.ln.Addr().String()
}

// Host returns the listen host.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.HostPort())
	return host
}

// Port returns the listen port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.HostPort())
	n, _ := strconv.Atoi(port)
	return n
}

// Sessions returns a copy of the recorded sessions.
func (s *Server) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, len(s.sessions))
	copy(out, s.sessions)
	return out
}

// Close stops the server and waits for open connections to finish.
func (s *Server) Close() {
	close(s.done)
	s.ln.Close() //nolint:errcheck
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close() //nolint:errcheck
			s.handle(conn)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	var sess Session
	recorded := false
	record := func() {
		if recorded {
			return
		}
		recorded = true
		s.mu.Lock()
		s.sessions = append(s.sessions, sess)
		s.mu.Unlock()
	}
	defer record()

	cmd := make([]byte, 10)
	if _, err := io.ReadFull(conn, cmd); err != nil {
		return
	}
	sess.Command = cmd

	var hdr [4]byte
	for {
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(hdr[:])
		if n == 0 {
			sess.Terminated = true
			break
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(conn, payload); err != nil {
			return
		}
		sess.Frames = append(sess.Frames, payload)
	}
	// Recorded before replying so a client that has its reply can
	// inspect the session.
	record()

	if s.hang {
		<-s.done
		return
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-s.done:
			return
		}
	}
	conn.Write(s.reply) //nolint:errcheck
}

// ClosedAddr returns a loopback address nothing listens on.
func ClosedAddr() string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("testutil: failed to listen: " + err.Error())
	}
	addr := ln.Addr().String()
	ln.Close() //nolint:errcheck
	return addr
}

// StallDialer never connects; it returns when the dial context ends.
type StallDialer struct{}

// DialContext blocks until ctx is done.
func (StallDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, &net.OpError{Op: "dial", Net: network, Err: ctx.Err()}
}

// ShortWriteConn wraps a net.Conn and writes at most Max bytes per call.
type ShortWriteConn struct {
	net.Conn
	Max int
}

// Write writes at most c.Max bytes of p.
func (c *ShortWriteConn) Write(p []byte) (int, error) {
	if len(p) > c.Max {
		p = p[:c.Max]
	}
	return c.Conn.Write(p)
}

// ShortWriteDialer dials TCP and wraps the connection in a ShortWriteConn.
type ShortWriteDialer struct {
	Max int
}

// DialContext dials address and limits each write to d.Max bytes.
func (d ShortWriteDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return &ShortWriteConn{Conn: conn, Max: d.Max}, nil
}
