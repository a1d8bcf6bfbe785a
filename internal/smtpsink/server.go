// Package smtpsink implements a local SMTP server that accepts every
// message and records it instead of relaying it. It backs the "sink"
// command and the SMTP transport tests.
package smtpsink

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/shineum/maildispatch/internal/envelope"
)

// shutdownTimeout bounds how long Serve waits for open sessions after ctx
// is cancelled.
const shutdownTimeout = 10 * time.Second

// Config holds the configuration for a sink Server.
type Config struct {
	// Addr is the address to listen on, e.g. "127.0.0.1:2525". Port 0
	// picks a free port.
	Addr string

	// Hostname is announced in the greeting and EHLO reply.
	Hostname string

	// TLSConfig enables STARTTLS when set.
	TLSConfig *tls.Config

	// Username and Password require AUTH before MAIL when either is set.
	Username string
	Password string

	// MaxMessageSize caps the DATA payload. Zero means 10 MB.
	MaxMessageSize int

	// OnMessage is called for every accepted message.
	OnMessage func(Message)
}

// Message is one accepted SMTP transaction.
type Message struct {
	From     string
	To       []string
	Raw      []byte
	Envelope *envelope.Envelope
	// ParseErr is set when Raw could not be parsed back into an Envelope.
	ParseErr error
}

// Server is a recording SMTP sink.
type Server struct {
	cfg      Config
	creds    credentials
	listener net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	messages []Message
}

// Listen binds the listener so Addr is known before Serve runs.
func Listen(cfg Config) (*Server, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		creds:    credentials{username: cfg.Username, password: cfg.Password},
		listener: ln,
	}, nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until ctx is cancelled, then waits for open
// sessions to finish.
func (s *Server) Serve(ctx context.Context) error {
	slog.Info("SMTP sink listening",
		"addr", s.Addr(),
		"auth_enabled", s.creds.enabled(),
		"tls_enabled", s.cfg.TLSConfig != nil,
	)

	stop := context.AfterFunc(ctx, func() { s.listener.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.waitForSessions()
				return nil
			}
			slog.Error("accept error", "error", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(conn, s).handle(ctx)
		}()
	}
}

// Close stops accepting connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Messages returns a copy of every message accepted so far.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.messages)
}

func (s *Server) record(from string, to []string, raw []byte) {
	msg := Message{From: from, To: to, Raw: raw}
	msg.Envelope, msg.ParseErr = envelope.Parse(raw)

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	slog.Debug("message received", "from", from, "recipients", len(to), "size", len(raw))
	if s.cfg.OnMessage != nil {
		s.cfg.OnMessage(msg)
	}
}

func (s *Server) waitForSessions() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, abandoning open sessions")
	}
}
