package smtpsink

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strings"
	"time"
)

// Session states, in protocol order.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

const (
	idleTimeout           = 60 * time.Second
	defaultMaxMessageSize = 10 * 1024 * 1024
)

var errMessageTooLarge = errors.New("message too large")

// session runs the SMTP state machine for one client connection.
type session struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	server *Server

	state     int
	tlsActive bool
	mailFrom  string
	rcptTo    []string
}

func newSession(conn net.Conn, server *Server) *session {
	return &session{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		server: server,
		state:  stateConnected,
	}
}

func (s *session) handle(ctx context.Context) {
	defer s.conn.Close()

	s.reply("220 %s ESMTP maildispatch sink", s.server.cfg.Hostname)

	for {
		if ctx.Err() != nil {
			s.reply("421 Service shutting down")
			return
		}
		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("connection read error", "error", err)
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		verb, arg, _ := strings.Cut(line, " ")
		if s.dispatch(strings.ToUpper(verb), arg) {
			return
		}
	}
}

// dispatch runs one command and reports whether the session is over.
func (s *session) dispatch(verb, arg string) bool {
	switch verb {
	case "EHLO", "HELO":
		s.greet(verb, arg)
	case "STARTTLS":
		return s.startTLS()
	case "AUTH":
		s.auth(arg)
	case "MAIL":
		s.mail(arg)
	case "RCPT":
		s.rcpt(arg)
	case "DATA":
		s.data()
	case "RSET":
		s.reset()
		s.reply("250 OK")
	case "NOOP":
		s.reply("250 OK")
	case "QUIT":
		s.reply("221 Bye")
		return true
	default:
		s.reply("500 Unrecognized command")
	}
	return false
}

func (s *session) greet(verb, arg string) {
	if arg == "" {
		s.reply("501 Syntax: %s hostname", verb)
		return
	}
	s.state = stateGreeted
	s.mailFrom, s.rcptTo = "", nil

	if verb == "HELO" {
		s.reply("250 %s Hello %s", s.server.cfg.Hostname, arg)
		return
	}

	s.reply("250-%s Hello %s", s.server.cfg.Hostname, arg)
	if s.server.cfg.TLSConfig != nil && !s.tlsActive {
		s.reply("250-STARTTLS")
	}
	if s.server.creds.enabled() {
		s.reply("250-AUTH PLAIN LOGIN")
	}
	s.reply("250-8BITMIME")
	s.reply("250 SIZE %d", s.server.cfg.MaxMessageSize)
}

// startTLS upgrades the connection. A failed handshake ends the session.
func (s *session) startTLS() bool {
	if s.server.cfg.TLSConfig == nil {
		s.reply("454 TLS not available")
		return false
	}
	if s.tlsActive {
		s.reply("454 TLS already active")
		return false
	}

	s.reply("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.server.cfg.TLSConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("TLS handshake failed", "error", err)
		return true
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	return false
}

func (s *session) auth(arg string) {
	if s.state < stateGreeted {
		s.reply("503 Send EHLO/HELO first")
		return
	}
	if !s.server.creds.enabled() {
		s.reply("503 AUTH not available")
		return
	}

	mechanism, initial, _ := strings.Cut(arg, " ")
	var err error
	switch strings.ToUpper(mechanism) {
	case "PLAIN":
		err = s.authPlain(initial)
	case "LOGIN":
		err = s.authLogin()
	default:
		s.reply("504 Unrecognized authentication type")
		return
	}

	switch {
	case errors.Is(err, errAuthCancelled):
		s.reply("501 Authentication cancelled")
	case err != nil:
		s.reply("535 Authentication failed")
	default:
		s.state = stateAuthOK
		s.reply("235 Authentication successful")
	}
}

var errAuthCancelled = errors.New("authentication cancelled")

func (s *session) authPlain(initial string) error {
	if initial == "" {
		var err error
		if initial, err = s.challenge("334"); err != nil {
			return err
		}
	}
	return s.server.creds.verifyPlain(initial)
}

func (s *session) authLogin() error {
	user, err := s.challenge("334 VXNlcm5hbWU6")
	if err != nil {
		return err
	}
	pass, err := s.challenge("334 UGFzc3dvcmQ6")
	if err != nil {
		return err
	}
	return s.server.creds.verifyLogin(user, pass)
}

// challenge sends a 334 prompt and reads the client's answer.
func (s *session) challenge(prompt string) (string, error) {
	s.reply("%s", prompt)
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "*" {
		return "", errAuthCancelled
	}
	return line, nil
}

func (s *session) mail(arg string) {
	if s.state < stateGreeted {
		s.reply("503 Send EHLO/HELO first")
		return
	}
	if s.server.creds.enabled() && s.state < stateAuthOK {
		s.reply("530 Authentication required")
		return
	}

	addr, ok := pathArg(arg, "FROM:")
	if !ok {
		s.reply("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.reply("250 OK")
}

func (s *session) rcpt(arg string) {
	if s.state < stateMailFrom {
		s.reply("503 Send MAIL FROM first")
		return
	}

	addr, ok := pathArg(arg, "TO:")
	if !ok || addr == "" {
		s.reply("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.reply("250 OK")
}

func (s *session) data() {
	if s.state < stateRcptTo {
		s.reply("503 Send RCPT TO first")
		return
	}

	s.reply("354 Start mail input; end with <CRLF>.<CRLF>")

	dot := textproto.NewReader(s.reader).DotReader()
	raw, err := io.ReadAll(io.LimitReader(dot, int64(s.server.cfg.MaxMessageSize)+1))
	if err == nil && len(raw) > s.server.cfg.MaxMessageSize {
		// Drain the rest so the session stays in sync.
		io.Copy(io.Discard, dot)
		err = errMessageTooLarge
	}

	switch {
	case errors.Is(err, errMessageTooLarge):
		s.reply("552 Message exceeds fixed maximum message size")
	case err != nil:
		slog.Debug("error reading DATA", "error", err)
		return
	default:
		s.server.record(s.mailFrom, s.rcptTo, raw)
		s.reply("250 OK message accepted")
	}
	s.reset()
}

// reset clears the transaction but keeps greeting and auth state.
func (s *session) reset() {
	s.mailFrom = ""
	s.rcptTo = nil
	switch {
	case s.state >= stateAuthOK && s.server.creds.enabled():
		s.state = stateAuthOK
	case s.state >= stateGreeted:
		s.state = stateGreeted
	}
}

func (s *session) reply(format string, args ...any) {
	if _, err := fmt.Fprintf(s.writer, format+"\r\n", args...); err != nil {
		slog.Debug("failed to write to client", "error", err)
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Debug("failed to flush to client", "error", err)
	}
}

// pathArg extracts the address from "FROM:<addr> PARAMS" style arguments.
// An empty reverse path "<>" is valid.
func pathArg(arg, prefix string) (string, bool) {
	if len(arg) < len(prefix) || !strings.EqualFold(arg[:len(prefix)], prefix) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(prefix):])
	if strings.HasPrefix(rest, "<") {
		end := strings.Index(rest, ">")
		if end < 0 {
			return "", false
		}
		return rest[1:end], true
	}
	addr, _, _ := strings.Cut(rest, " ")
	return addr, addr != ""
}
