package httpapi

import (
	"context"
	"net/http"

	"github.com/samber/lo"

	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

const sendgridBaseURL = "https://api.sendgrid.com"

// SendGridConfig holds the configuration for creating a SendGrid provider.
type SendGridConfig struct {
	APIKey  string
	BaseURL string
}

// SendGrid sends through the SendGrid v3 mail/send endpoint.
type SendGrid struct {
	c *client
}

// NewSendGrid creates a SendGrid provider. A nil client gets a 30s timeout.
func NewSendGrid(cfg SendGridConfig, hc *http.Client) *SendGrid {
	return &SendGrid{c: newClient("sendgrid", cfg.BaseURL, sendgridBaseURL, hc, headerAuth("Authorization", "Bearer "+cfg.APIKey))}
}

// Name returns the provider name.
func (s *SendGrid) Name() string {
	return "sendgrid"
}

type sendgridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridPersonalization struct {
	To  []sendgridAddress `json:"to,omitempty"`
	Cc  []sendgridAddress `json:"cc,omitempty"`
	Bcc []sendgridAddress `json:"bcc,omitempty"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendgridAttachment struct {
	Content  string `json:"content"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

type sendgridRequest struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridAddress           `json:"from"`
	ReplyTo          *sendgridAddress          `json:"reply_to,omitempty"`
	Subject          string                    `json:"subject,omitempty"`
	Content          []sendgridContent         `json:"content,omitempty"`
	Headers          map[string]string         `json:"headers,omitempty"`
	Attachments      []sendgridAttachment      `json:"attachments,omitempty"`
}

// Send posts the envelope to SendGrid. SendGrid answers 202 with an empty
// body and reports its id in the X-Message-Id header.
func (s *SendGrid) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	from, err := sender(s.Name(), env)
	if err != nil {
		return provider.Receipt{}, err
	}
	parts, err := encodeParts(env)
	if err != nil {
		return provider.Receipt{}, err
	}

	req := sendgridRequest{
		Personalizations: []sendgridPersonalization{{
			To:  sendgridAddrs(env.To),
			Cc:  sendgridAddrs(env.Cc),
			Bcc: sendgridAddrs(env.Bcc),
		}},
		From:    sendgridAddress{Email: from.Address, Name: from.Name},
		Subject: env.Subject,
		Headers: extraHeaders(env),
		Attachments: lo.Map(parts, func(p encodedPart, _ int) sendgridAttachment {
			return sendgridAttachment{Content: p.Content, Type: p.ContentType, Filename: p.Name}
		}),
	}
	// SendGrid requires text/plain before text/html.
	if text := env.TextContent(); text != "" {
		req.Content = append(req.Content, sendgridContent{Type: "text/plain", Value: text})
	}
	if html := env.HTMLContent(); html != "" {
		req.Content = append(req.Content, sendgridContent{Type: "text/html", Value: html})
	}
	if replyTo, ok := firstReplyTo(env); ok {
		req.ReplyTo = &sendgridAddress{Email: replyTo.Address, Name: replyTo.Name}
	}

	resp, err := s.c.postJSON(ctx, "/v3/mail/send", req)
	if err != nil {
		return provider.Receipt{}, err
	}

	if id := resp.header.Get("X-Message-Id"); id != "" {
		return provider.Receipt{MessageID: id}, nil
	}
	return provider.Receipt{MessageID: env.MessageID}, nil
}

func sendgridAddrs(addrs []email.Address) []sendgridAddress {
	if len(addrs) == 0 {
		return nil
	}
	return lo.Map(addrs, func(a email.Address, _ int) sendgridAddress {
		return sendgridAddress{Email: a.Address, Name: a.Name}
	})
}
