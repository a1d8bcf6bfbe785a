// Package smtp implements a Provider that delivers envelopes to an SMTP
// relay. Vendor SMTP drivers (gmail, ses, mailgun, ...) are this provider
// pointed at the vendor's relay host.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

// Connection security modes.
const (
	EncryptionNone     = "none"
	EncryptionSTARTTLS = "starttls"
	EncryptionTLS      = "tls"
)

const (
	defaultPort        = 587
	defaultTLSPort     = 465
	defaultDialTimeout = 30 * time.Second
)

// ErrNoRecipients is returned when the envelope has no valid recipient.
var ErrNoRecipients = errors.New("no valid recipients")

// Config holds the configuration for creating a Provider.
type Config struct {
	// Name is reported by Provider.Name, e.g. "smtp" or "gmail".
	Name     string
	Host     string
	Port     int
	Username string
	Password string
	// Encryption is one of none, starttls or tls. Empty upgrades with
	// STARTTLS when the server offers it.
	Encryption         string
	InsecureSkipVerify bool
	// DialTimeout bounds connection setup. Zero means 30s.
	DialTimeout time.Duration
}

// Provider sends envelopes over SMTP with net/smtp.
type Provider struct {
	cfg  Config
	addr string
}

// New creates a new SMTP Provider.
func New(cfg Config) *Provider {
	if cfg.Name == "" {
		cfg.Name = "smtp"
	}
	cfg.Encryption = strings.ToLower(cfg.Encryption)
	if cfg.Port == 0 {
		cfg.Port = defaultPort
		if cfg.Encryption == EncryptionTLS {
			cfg.Port = defaultTLSPort
		}
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Provider{
		cfg:  cfg,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.cfg.Name
}

// Send delivers the envelope in one SMTP transaction. SMTP assigns no id
// the client can read back, so the receipt carries the envelope's
// Message-ID.
func (p *Provider) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	recipients := env.Recipients()
	if len(recipients) == 0 {
		return provider.Receipt{}, ErrNoRecipients
	}

	raw, err := env.Bytes()
	if err != nil {
		return provider.Receipt{}, fmt.Errorf("failed to build message: %w", err)
	}

	client, err := p.dial(ctx)
	if err != nil {
		return provider.Receipt{}, p.fail(err)
	}
	defer client.Close()

	if err := p.startTLS(client); err != nil {
		return provider.Receipt{}, p.fail(err)
	}
	if err := p.auth(client); err != nil {
		return provider.Receipt{}, p.fail(err)
	}

	if err := client.Mail(env.Sender()); err != nil {
		return provider.Receipt{}, p.fail(fmt.Errorf("MAIL FROM: %w", err))
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return provider.Receipt{}, p.fail(fmt.Errorf("RCPT TO %s: %w", rcpt, err))
		}
	}

	w, err := client.Data()
	if err != nil {
		return provider.Receipt{}, p.fail(fmt.Errorf("DATA: %w", err))
	}
	if _, err := w.Write(raw); err != nil {
		return provider.Receipt{}, p.fail(fmt.Errorf("writing message: %w", err))
	}
	if err := w.Close(); err != nil {
		return provider.Receipt{}, p.fail(fmt.Errorf("DATA: %w", err))
	}

	if err := client.Quit(); err != nil {
		slog.Debug("SMTP QUIT failed after delivery", "provider", p.cfg.Name, "error", err)
	}

	return provider.Receipt{MessageID: env.MessageID}, nil
}

// dial connects to the relay. The connection is closed if ctx ends while
// the transaction is still running.
func (p *Provider) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}

	var (
		conn net.Conn
		err  error
	)
	if p.cfg.Encryption == EncryptionTLS {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: p.tlsConfig()}
		conn, err = tlsDialer.DialContext(ctx, "tcp", p.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", p.addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	client, err := smtp.NewClient(conn, p.cfg.Host)
	if err != nil {
		stop()
		conn.Close()
		return nil, fmt.Errorf("SMTP greeting from %s: %w", p.addr, err)
	}
	return client, nil
}

func (p *Provider) startTLS(client *smtp.Client) error {
	switch p.cfg.Encryption {
	case EncryptionTLS, EncryptionNone:
		return nil
	}

	ok, _ := client.Extension("STARTTLS")
	if !ok {
		if p.cfg.Encryption == EncryptionSTARTTLS {
			return errors.New("server does not support STARTTLS")
		}
		return nil
	}
	if err := client.StartTLS(p.tlsConfig()); err != nil {
		return fmt.Errorf("STARTTLS: %w", err)
	}
	return nil
}

// auth authenticates with PLAIN, or LOGIN when the server only offers that.
func (p *Provider) auth(client *smtp.Client) error {
	if p.cfg.Username == "" && p.cfg.Password == "" {
		return nil
	}

	ok, params := client.Extension("AUTH")
	if !ok {
		return errors.New("server does not support AUTH")
	}

	var auth smtp.Auth
	mechanisms := strings.Fields(strings.ToUpper(params))
	if !slices.Contains(mechanisms, "PLAIN") && slices.Contains(mechanisms, "LOGIN") {
		auth = &loginAuth{username: p.cfg.Username, password: p.cfg.Password, host: p.cfg.Host}
	} else {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}

	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("AUTH: %w", err)
	}
	return nil
}

func (p *Provider) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         p.cfg.Host,
		InsecureSkipVerify: p.cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

func (p *Provider) fail(err error) error {
	return &provider.SendError{Provider: p.cfg.Name, Message: err.Error()}
}

// loginAuth implements the LOGIN SMTP auth mechanism, which net/smtp lacks.
type loginAuth struct {
	username string
	password string
	host     string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if server.Name != a.host {
		return "", nil, fmt.Errorf("unexpected server name %s", server.Name)
	}
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("unencrypted connection")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:", "user:":
		return []byte(a.username), nil
	case "password:", "pass:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("unexpected login challenge: %s", fromServer)
	}
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
