package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/samber/lo"

	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

const brevoBaseURL = "https://api.brevo.com"

// BrevoConfig holds the configuration for creating a Brevo provider.
type BrevoConfig struct {
	APIKey  string
	BaseURL string
}

// Brevo sends through the Brevo (formerly Sendinblue) transactional email
// API.
type Brevo struct {
	c *client
}

// NewBrevo creates a Brevo provider. A nil client gets a 30s timeout.
func NewBrevo(cfg BrevoConfig, hc *http.Client) *Brevo {
	return &Brevo{c: newClient("sendinblue", cfg.BaseURL, brevoBaseURL, hc, headerAuth("api-key", cfg.APIKey))}
}

// Name returns the provider name.
func (b *Brevo) Name() string {
	return "sendinblue"
}

type brevoAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type brevoRequest struct {
	Sender      brevoAddress      `json:"sender"`
	To          []brevoAddress    `json:"to,omitempty"`
	Cc          []brevoAddress    `json:"cc,omitempty"`
	Bcc         []brevoAddress    `json:"bcc,omitempty"`
	ReplyTo     *brevoAddress     `json:"replyTo,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	TextContent string            `json:"textContent,omitempty"`
	HTMLContent string            `json:"htmlContent,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
}

// Send posts the envelope to /v3/smtp/email.
func (b *Brevo) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	from, err := sender(b.Name(), env)
	if err != nil {
		return provider.Receipt{}, err
	}
	parts, err := encodeParts(env)
	if err != nil {
		return provider.Receipt{}, err
	}

	req := brevoRequest{
		Sender:      brevoAddress{Email: from.Address, Name: from.Name},
		To:          brevoAddrs(env.To),
		Cc:          brevoAddrs(env.Cc),
		Bcc:         brevoAddrs(env.Bcc),
		Subject:     env.Subject,
		TextContent: env.TextContent(),
		HTMLContent: env.HTMLContent(),
		Headers:     extraHeaders(env),
		Attachment: lo.Map(parts, func(p encodedPart, _ int) brevoAttachment {
			return brevoAttachment{Name: p.Name, Content: p.Content}
		}),
	}
	if replyTo, ok := firstReplyTo(env); ok {
		req.ReplyTo = &brevoAddress{Email: replyTo.Address, Name: replyTo.Name}
	}

	resp, err := b.c.postJSON(ctx, "/v3/smtp/email", req)
	if err != nil {
		return provider.Receipt{}, err
	}

	var out brevoResponse
	if err := json.Unmarshal(resp.body, &out); err != nil || out.MessageID == "" {
		return provider.Receipt{MessageID: env.MessageID}, nil
	}
	return provider.Receipt{MessageID: out.MessageID}, nil
}

func brevoAddrs(addrs []email.Address) []brevoAddress {
	if len(addrs) == 0 {
		return nil
	}
	return lo.Map(addrs, func(a email.Address, _ int) brevoAddress {
		return brevoAddress{Email: a.Address, Name: a.Name}
	})
}
