// Package resend implements a Provider that sends emails through the Resend
// API using the official client.
package resend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	resendapi "github.com/resend/resend-go/v2"
	"github.com/samber/lo"

	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for tests.
	BaseURL string
}

// Provider sends envelopes with the Resend emails endpoint.
type Provider struct {
	client *resendapi.Client
}

// New creates a Provider. A nil client gets a 30s timeout.
func New(cfg Config, hc *http.Client) (*Provider, error) {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	client := resendapi.NewCustomClient(hc, cfg.APIKey)

	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid resend base url: %w", err)
		}
		client.BaseURL = base
	}
	return &Provider{client: client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

// Send posts the envelope once. The receipt carries the Resend email id.
func (p *Provider) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	if env.From.Address == "" {
		return provider.Receipt{}, &provider.SendError{Provider: p.Name(), Message: "sender address is required"}
	}

	parts, err := env.LoadParts()
	if err != nil {
		return provider.Receipt{}, err
	}

	req := &resendapi.SendEmailRequest{
		From:    env.From.String(),
		To:      lo.Map(env.To, bare),
		Cc:      lo.Map(env.Cc, bare),
		Bcc:     lo.Map(env.Bcc, bare),
		Subject: env.Subject,
		Html:    env.HTMLContent(),
		Text:    env.TextContent(),
		Headers: headers(env),
	}
	if len(env.ReplyTo) > 0 {
		req.ReplyTo = env.ReplyTo[0].Address
	}
	for _, part := range parts {
		req.Attachments = append(req.Attachments, &resendapi.Attachment{
			Content:  part.Content,
			Filename: part.Name,
		})
	}

	sent, err := p.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return provider.Receipt{}, err
		}
		slog.Warn("Resend API error", "error", err)
		return provider.Receipt{}, &provider.SendError{Provider: p.Name(), Message: err.Error()}
	}

	if sent == nil || sent.Id == "" {
		return provider.Receipt{MessageID: env.MessageID}, nil
	}
	return provider.Receipt{MessageID: sent.Id}, nil
}

func bare(a email.Address, _ int) string {
	return a.Address
}

// headers carries custom headers, the Message-ID and the priority.
func headers(env *envelope.Envelope) map[string]string {
	custom := env.CustomHeaders()
	out := make(map[string]string, len(custom)+2)
	for k, v := range custom {
		out[k] = v
	}
	if env.MessageID != "" {
		out["Message-ID"] = env.MessageID
	}
	if env.Priority > 0 {
		out["X-Priority"] = strconv.Itoa(env.Priority)
	}
	return out
}
