// Package mailer validates a message against a provider configuration,
// resolves its attachments and hands it to the transport the configuration
// selects. Every outcome is reported as a result.SendResult.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dario.cat/mergo"

	"github.com/shineum/maildispatch/internal/attachment"
	"github.com/shineum/maildispatch/internal/config"
	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/gateway"
	"github.com/shineum/maildispatch/internal/provider"
	"github.com/shineum/maildispatch/internal/result"
	"github.com/shineum/maildispatch/internal/validator"
)

// Result messages.
const (
	msgSent           = "Mail sent"
	msgValid          = "OK"
	msgInvalidConfig  = "Invalid configuration"
	msgInvalidMessage = "Invalid message"
)

// Validator checks a document against a named schema.
type Validator interface {
	Validate(schema validator.Schema, doc any) error
}

// UnresolvedError is returned when no transport is bound to a provider
// document's (provider, driver) pair.
type UnresolvedError struct {
	Binding config.Binding
}

func (e *UnresolvedError) Error() string {
	return "Invalid provider: " + e.Binding.Provider
}

// Mailer dispatches messages. It is safe for concurrent use; it holds no
// per-send state.
type Mailer struct {
	validator  Validator
	fetcher    attachment.Fetcher
	factories  map[config.Binding]Factory
	httpClient *http.Client
	gateway    config.GatewayConfig
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithConfig applies the process configuration: the send timeout and the
// gateway defaults.
func WithConfig(cfg *config.Config) Option {
	return func(m *Mailer) {
		m.timeout = cfg.Send.Timeout
		m.gateway = cfg.Gateway
	}
}

// WithFactory binds b to f, replacing any built-in transport for b.
func WithFactory(b config.Binding, f Factory) Option {
	return func(m *Mailer) {
		m.factories[b] = f
	}
}

// WithFetcher sets the capability URL attachments are fetched with.
func WithFetcher(f attachment.Fetcher) Option {
	return func(m *Mailer) {
		m.fetcher = f
	}
}

// WithHTTPClient sets the client every HTTP transport and the default
// fetcher use.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Mailer) {
		m.httpClient = hc
	}
}

// WithValidator replaces the schema validator.
func WithValidator(v Validator) Option {
	return func(m *Mailer) {
		m.validator = v
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Mailer) {
		m.logger = l
	}
}

// New creates a Mailer with the built-in binding table.
func New(opts ...Option) (*Mailer, error) {
	m := &Mailer{
		factories: DefaultFactories(),
		timeout:   30 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.validator == nil {
		v, err := validator.New()
		if err != nil {
			return nil, fmt.Errorf("failed to create validator: %w", err)
		}
		m.validator = v
	}
	if m.fetcher == nil {
		m.fetcher = attachment.NewHTTPFetcher(m.httpClient)
	}
	return m, nil
}

// Validate checks the provider configuration, then the message. The
// message is not inspected when the configuration is invalid.
func (m *Mailer) Validate(msg *email.Message, p *config.Provider) result.SendResult {
	if p == nil {
		return result.Error(result.CodeConfigInvalid, msgInvalidConfig, nil)
	}
	if err := m.validator.Validate(validator.SchemaProviderConfig, p); err != nil {
		m.logger.Warn("provider configuration rejected", "provider", p.Provider, "error", err)
		return result.Error(result.CodeConfigInvalid, msgInvalidConfig, errorsExtra(err))
	}

	if msg == nil {
		return result.Error(result.CodeMessageInvalid, msgInvalidMessage, nil)
	}
	if err := m.validator.Validate(validator.SchemaMail, msg.Document()); err != nil {
		m.logger.Warn("message rejected", "provider", p.Provider, "error", err)
		return result.Error(result.CodeMessageInvalid, msgInvalidMessage, errorsExtra(err))
	}

	return result.OK(msgValid, nil)
}

// Send validates msg against p and delivers it once through the transport
// p selects. It never returns an error and never panics on transport
// failure: every outcome is in the returned result.
func (m *Mailer) Send(ctx context.Context, msg *email.Message, p *config.Provider) result.SendResult {
	if r := m.Validate(msg, p); !r.OK() {
		return r
	}

	if timeout := m.sendTimeout(p); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	binding := p.Binding()
	logger := m.logger.With("provider", binding.Provider, "driver", binding.Driver)

	// The binding is checked before attachments are fetched so an
	// unresolved provider makes no network call at all.
	var factory Factory
	if binding.Provider != config.ProviderGateway {
		f, ok := m.factories[binding]
		if !ok {
			err := &UnresolvedError{Binding: binding}
			logger.Warn("no transport for provider", "binding", binding.String())
			return result.Error(result.CodeUnresolvedProvider, err.Error(), nil)
		}
		factory = f
	}

	parts, err := attachment.NewResolver(m.fetcher).Resolve(ctx, msg.Attachments())
	if err != nil {
		var notFound *attachment.NotFoundError
		if errors.As(err, &notFound) {
			logger.Warn("attachment not found", "error", err)
			return result.Error(result.CodeAttachmentNotFound, notFound.Error(), nil)
		}
		logger.Error("failed to resolve attachments", "error", err)
		return result.Error(result.CodeTransportFailure, err.Error(), nil)
	}

	env := envelope.New(msg, parts)

	if factory == nil {
		return m.sendGateway(ctx, logger, env, p)
	}

	transport, err := factory(ctx, p, m.httpClient)
	if err != nil {
		logger.Error("failed to create transport", "error", err)
		return result.Error(result.CodeTransportFailure, err.Error(), nil)
	}

	receipt, err := deliver(ctx, transport, env)
	if err != nil {
		logger.Error("failed to send email", "error", err, "attachments", len(parts))
		return result.Error(result.CodeTransportFailure, err.Error(), failureExtra(err))
	}

	logger.Info("email sent", "message_id", receipt.MessageID, "attachments", len(parts))
	return result.OK(msgSent, map[string]any{
		"message_id": receipt.MessageID,
		"provider":   binding.Provider,
		"driver":     binding.Driver,
	})
}

// sendTimeout bounds a whole send. A gateway document's own timeout wins
// over the process timeout.
func (m *Mailer) sendTimeout(p *config.Provider) time.Duration {
	if p.Provider == config.ProviderGateway && p.Timeout > 0 {
		return p.Timeout
	}
	return m.timeout
}

// failureExtra exposes the backend status of a SendError, and whether
// resending the same request could succeed.
func failureExtra(err error) map[string]any {
	var sendErr *provider.SendError
	if !errors.As(err, &sendErr) {
		return nil
	}
	return map[string]any{
		"status_code": sendErr.StatusCode,
		"permanent":   sendErr.Permanent(),
	}
}

// deliver makes the single transport call, turning a panic into an error.
func deliver(ctx context.Context, transport provider.Provider, env *envelope.Envelope) (receipt provider.Receipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: transport panicked: %v", transport.Name(), r)
		}
	}()
	return transport.Send(ctx, env)
}

func (m *Mailer) sendGateway(ctx context.Context, logger *slog.Logger, env *envelope.Envelope, p *config.Provider) (res result.SendResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("gateway send panicked", "error", r)
			res = result.Error(result.CodeTransportFailure, fmt.Sprintf("gateway panicked: %v", r), nil)
		}
	}()

	client, err := gateway.New(p.AccessKey, p.SecretKey, m.gatewayOptions(p), m.httpClient)
	if err != nil {
		logger.Error("failed to create gateway client", "error", err)
		return result.Error(result.CodeTransportFailure, err.Error(), nil)
	}

	doc, err := gateway.BuildDocument(env)
	if err != nil {
		logger.Error("failed to build gateway document", "error", err)
		return result.Error(result.CodeTransportFailure, err.Error(), nil)
	}

	resp, err := client.Send(ctx, doc)
	if err != nil {
		var rejected *gateway.RejectedError
		if errors.As(err, &rejected) {
			logger.Warn("gateway rejected message", "error", rejected.Message)
			return result.Error(result.CodeGatewayRejected, rejected.Message, nil)
		}
		logger.Error("failed to send email", "url", client.URL(), "error", err)
		return result.Error(result.CodeTransportFailure, err.Error(), nil)
	}

	logger.Info("email sent", "url", client.URL())
	return result.OK(msgSent, resp)
}

// gatewayOptions takes the document's endpoint settings and fills the gaps
// from the process gateway defaults. gateway.New fills whatever is left.
func (m *Mailer) gatewayOptions(p *config.Provider) gateway.Options {
	opts := gateway.Options{
		Host:     p.Host,
		Port:     p.Port,
		Endpoint: p.Endpoint,
		Timeout:  p.Timeout,
	}
	if p.Proxy != nil {
		opts.ProxyHost = p.Proxy.Host
		opts.ProxyPort = p.Proxy.Port
	}

	defaults := gateway.Options{
		Host:     m.gateway.Host,
		Port:     m.gateway.Port,
		Endpoint: m.gateway.Endpoint,
		Timeout:  m.timeout,
	}
	if err := mergo.Merge(&opts, defaults); err != nil {
		m.logger.Warn("failed to apply gateway defaults", "error", err)
	}
	return opts
}

// errorsExtra exposes validation failures under the "errors" key.
func errorsExtra(err error) map[string]any {
	var fieldErrs validator.FieldErrors
	if errors.As(err, &fieldErrs) {
		return map[string]any{"errors": []validator.FieldError(fieldErrs)}
	}
	return map[string]any{"errors": []validator.FieldError{{Message: err.Error()}}}
}
