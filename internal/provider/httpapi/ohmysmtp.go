package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

const ohmysmtpBaseURL = "https://app.ohmysmtp.com"

// OhMySMTPConfig holds the configuration for creating an OhMySMTP provider.
type OhMySMTPConfig struct {
	APIToken string
	BaseURL  string
}

// OhMySMTP sends through the OhMySMTP send API.
type OhMySMTP struct {
	c *client
}

// NewOhMySMTP creates an OhMySMTP provider. A nil client gets a 30s timeout.
func NewOhMySMTP(cfg OhMySMTPConfig, hc *http.Client) *OhMySMTP {
	return &OhMySMTP{c: newClient("ohmysmtp", cfg.BaseURL, ohmysmtpBaseURL, hc, headerAuth("OhMySMTP-Server-Token", cfg.APIToken))}
}

// Name returns the provider name.
func (o *OhMySMTP) Name() string {
	return "ohmysmtp"
}

type ohmysmtpAttachment struct {
	Name        string `json:"name"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type ohmysmtpRequest struct {
	From        string               `json:"from"`
	To          string               `json:"to,omitempty"`
	Cc          string               `json:"cc,omitempty"`
	Bcc         string               `json:"bcc,omitempty"`
	ReplyTo     string               `json:"replyto,omitempty"`
	Subject     string               `json:"subject,omitempty"`
	TextBody    string               `json:"textbody,omitempty"`
	HTMLBody    string               `json:"htmlbody,omitempty"`
	Attachments []ohmysmtpAttachment `json:"attachments,omitempty"`
}

type ohmysmtpResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Send posts the envelope to /api/v1/send. The API has no custom header
// support, so Headers and Priority are not sent.
func (o *OhMySMTP) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	from, err := sender(o.Name(), env)
	if err != nil {
		return provider.Receipt{}, err
	}
	parts, err := encodeParts(env)
	if err != nil {
		return provider.Receipt{}, err
	}

	req := ohmysmtpRequest{
		From:     from.String(),
		To:       headerList(env.To),
		Cc:       headerList(env.Cc),
		Bcc:      headerList(env.Bcc),
		ReplyTo:  headerList(env.ReplyTo),
		Subject:  env.Subject,
		TextBody: env.TextContent(),
		HTMLBody: env.HTMLContent(),
		Attachments: lo.Map(parts, func(p encodedPart, _ int) ohmysmtpAttachment {
			return ohmysmtpAttachment{Name: p.Name, Content: p.Content, ContentType: p.ContentType}
		}),
	}

	resp, err := o.c.postJSON(ctx, "/api/v1/send", req)
	if err != nil {
		return provider.Receipt{}, err
	}

	var out ohmysmtpResponse
	if err := json.Unmarshal(resp.body, &out); err != nil || out.ID == 0 {
		return provider.Receipt{MessageID: env.MessageID}, nil
	}
	return provider.Receipt{MessageID: strconv.FormatInt(out.ID, 10)}, nil
}
