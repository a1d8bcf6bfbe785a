package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

const mailjetBaseURL = "https://api.mailjet.com"

// MailjetConfig holds the configuration for creating a Mailjet provider.
type MailjetConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
}

// Mailjet sends through the Mailjet Send API v3.1.
type Mailjet struct {
	c *client
}

// NewMailjet creates a Mailjet provider. A nil client gets a 30s timeout.
func NewMailjet(cfg MailjetConfig, hc *http.Client) *Mailjet {
	return &Mailjet{c: newClient("mailjet", cfg.BaseURL, mailjetBaseURL, hc, basicAuth(cfg.APIKey, cfg.SecretKey))}
}

// Name returns the provider name.
func (m *Mailjet) Name() string {
	return "mailjet"
}

type mailjetAddress struct {
	Email string `json:"Email"`
	Name  string `json:"Name,omitempty"`
}

type mailjetAttachment struct {
	ContentType   string `json:"ContentType"`
	Filename      string `json:"Filename"`
	Base64Content string `json:"Base64Content"`
}

type mailjetMessage struct {
	From        mailjetAddress      `json:"From"`
	To          []mailjetAddress    `json:"To,omitempty"`
	Cc          []mailjetAddress    `json:"Cc,omitempty"`
	Bcc         []mailjetAddress    `json:"Bcc,omitempty"`
	ReplyTo     *mailjetAddress     `json:"ReplyTo,omitempty"`
	Subject     string              `json:"Subject,omitempty"`
	TextPart    string              `json:"TextPart,omitempty"`
	HTMLPart    string              `json:"HTMLPart,omitempty"`
	Headers     map[string]string   `json:"Headers,omitempty"`
	Attachments []mailjetAttachment `json:"Attachments,omitempty"`
}

type mailjetRequest struct {
	Messages []mailjetMessage `json:"Messages"`
}

type mailjetResponse struct {
	Messages []struct {
		Status string `json:"Status"`
		To     []struct {
			Email       string `json:"Email"`
			MessageUUID string `json:"MessageUUID"`
			MessageID   int64  `json:"MessageID"`
		} `json:"To"`
		Errors []struct {
			ErrorMessage string `json:"ErrorMessage"`
		} `json:"Errors"`
	} `json:"Messages"`
}

// Send posts the envelope as one message of a v3.1 send request.
func (m *Mailjet) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	from, err := sender(m.Name(), env)
	if err != nil {
		return provider.Receipt{}, err
	}
	parts, err := encodeParts(env)
	if err != nil {
		return provider.Receipt{}, err
	}

	msg := mailjetMessage{
		From:     mailjetAddr(from),
		To:       mailjetAddrs(env.To),
		Cc:       mailjetAddrs(env.Cc),
		Bcc:      mailjetAddrs(env.Bcc),
		Subject:  env.Subject,
		TextPart: env.TextContent(),
		HTMLPart: env.HTMLContent(),
		Headers:  extraHeaders(env),
		Attachments: lo.Map(parts, func(p encodedPart, _ int) mailjetAttachment {
			return mailjetAttachment{ContentType: p.ContentType, Filename: p.Name, Base64Content: p.Content}
		}),
	}
	if replyTo, ok := firstReplyTo(env); ok {
		addr := mailjetAddr(replyTo)
		msg.ReplyTo = &addr
	}

	resp, err := m.c.postJSON(ctx, "/v3.1/send", mailjetRequest{Messages: []mailjetMessage{msg}})
	if err != nil {
		return provider.Receipt{}, err
	}

	var out mailjetResponse
	if err := json.Unmarshal(resp.body, &out); err != nil || len(out.Messages) == 0 {
		return provider.Receipt{MessageID: env.MessageID}, nil
	}
	result := out.Messages[0]
	if result.Status == "error" {
		message := "message rejected"
		if len(result.Errors) > 0 {
			message = result.Errors[0].ErrorMessage
		}
		return provider.Receipt{}, &provider.SendError{Provider: m.Name(), StatusCode: resp.status, Message: message}
	}
	if len(result.To) > 0 {
		if result.To[0].MessageUUID != "" {
			return provider.Receipt{MessageID: result.To[0].MessageUUID}, nil
		}
		if result.To[0].MessageID != 0 {
			return provider.Receipt{MessageID: strconv.FormatInt(result.To[0].MessageID, 10)}, nil
		}
	}
	return provider.Receipt{MessageID: env.MessageID}, nil
}

func mailjetAddr(a email.Address) mailjetAddress {
	return mailjetAddress{Email: a.Address, Name: a.Name}
}

func mailjetAddrs(addrs []email.Address) []mailjetAddress {
	if len(addrs) == 0 {
		return nil
	}
	return lo.Map(addrs, func(a email.Address, _ int) mailjetAddress { return mailjetAddr(a) })
}
