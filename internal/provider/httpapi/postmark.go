package httpapi

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"slices"

	"github.com/samber/lo"

	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

const postmarkBaseURL = "https://api.postmarkapp.com"

// PostmarkConfig holds the configuration for creating a Postmark provider.
type PostmarkConfig struct {
	ServerToken string
	BaseURL     string
}

// Postmark sends through the Postmark /email endpoint.
type Postmark struct {
	c *client
}

// NewPostmark creates a Postmark provider. A nil client gets a 30s timeout.
func NewPostmark(cfg PostmarkConfig, hc *http.Client) *Postmark {
	return &Postmark{c: newClient("postmark", cfg.BaseURL, postmarkBaseURL, hc, headerAuth("X-Postmark-Server-Token", cfg.ServerToken))}
}

// Name returns the provider name.
func (p *Postmark) Name() string {
	return "postmark"
}

type postmarkHeader struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

type postmarkAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
}

type postmarkRequest struct {
	From        string               `json:"From"`
	To          string               `json:"To,omitempty"`
	Cc          string               `json:"Cc,omitempty"`
	Bcc         string               `json:"Bcc,omitempty"`
	ReplyTo     string               `json:"ReplyTo,omitempty"`
	Subject     string               `json:"Subject,omitempty"`
	TextBody    string               `json:"TextBody,omitempty"`
	HTMLBody    string               `json:"HtmlBody,omitempty"`
	Headers     []postmarkHeader     `json:"Headers,omitempty"`
	Attachments []postmarkAttachment `json:"Attachments,omitempty"`
}

type postmarkResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// Send posts the envelope to Postmark.
func (p *Postmark) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	from, err := sender(p.Name(), env)
	if err != nil {
		return provider.Receipt{}, err
	}
	parts, err := encodeParts(env)
	if err != nil {
		return provider.Receipt{}, err
	}

	req := postmarkRequest{
		From:     from.String(),
		To:       headerList(env.To),
		Cc:       headerList(env.Cc),
		Bcc:      headerList(env.Bcc),
		ReplyTo:  headerList(env.ReplyTo),
		Subject:  env.Subject,
		TextBody: env.TextContent(),
		HTMLBody: env.HTMLContent(),
		Attachments: lo.Map(parts, func(a encodedPart, _ int) postmarkAttachment {
			return postmarkAttachment{Name: a.Name, Content: a.Content, ContentType: a.ContentType}
		}),
	}
	headers := extraHeaders(env)
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		req.Headers = append(req.Headers, postmarkHeader{Name: k, Value: headers[k]})
	}

	resp, err := p.c.postJSON(ctx, "/email", req)
	if err != nil {
		return provider.Receipt{}, err
	}

	var out postmarkResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return provider.Receipt{MessageID: env.MessageID}, nil
	}
	if out.ErrorCode != 0 {
		return provider.Receipt{}, &provider.SendError{Provider: p.Name(), StatusCode: resp.status, Message: out.Message}
	}
	if out.MessageID == "" {
		return provider.Receipt{MessageID: env.MessageID}, nil
	}
	return provider.Receipt{MessageID: out.MessageID}, nil
}
