package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"

	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

const mailgunBaseURL = "https://api.mailgun.net"

// MailgunConfig holds the configuration for creating a Mailgun provider.
type MailgunConfig struct {
	APIKey string
	Domain string
	// BaseURL overrides the API root, e.g. https://api.eu.mailgun.net.
	BaseURL string
	// MIME posts the rendered message to messages.mime instead of
	// sending the fields as a form.
	MIME bool
}

// Mailgun sends through the Mailgun messages API.
type Mailgun struct {
	c      *client
	domain string
	mime   bool
}

// NewMailgun creates a Mailgun provider. A nil client gets a 30s timeout.
func NewMailgun(cfg MailgunConfig, hc *http.Client) *Mailgun {
	return &Mailgun{
		c:      newClient("mailgun", cfg.BaseURL, mailgunBaseURL, hc, basicAuth("api", cfg.APIKey)),
		domain: cfg.Domain,
		mime:   cfg.MIME,
	}
}

// Name returns the provider name.
func (m *Mailgun) Name() string {
	return "mailgun"
}

type mailgunResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Send posts the envelope as multipart form data.
func (m *Mailgun) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	var (
		body        bytes.Buffer
		path        string
		contentType string
		err         error
	)
	if m.mime {
		path = fmt.Sprintf("/v3/%s/messages.mime", url.PathEscape(m.domain))
		contentType, err = m.mimeForm(&body, env)
	} else {
		path = fmt.Sprintf("/v3/%s/messages", url.PathEscape(m.domain))
		contentType, err = m.fieldsForm(&body, env)
	}
	if err != nil {
		return provider.Receipt{}, err
	}

	resp, err := m.c.post(ctx, path, contentType, &body)
	if err != nil {
		return provider.Receipt{}, err
	}

	var out mailgunResponse
	if err := json.Unmarshal(resp.body, &out); err != nil || out.ID == "" {
		return provider.Receipt{MessageID: env.MessageID}, nil
	}
	return provider.Receipt{MessageID: out.ID}, nil
}

func (m *Mailgun) fieldsForm(buf *bytes.Buffer, env *envelope.Envelope) (string, error) {
	from, err := sender(m.Name(), env)
	if err != nil {
		return "", err
	}
	parts, err := env.LoadParts()
	if err != nil {
		return "", err
	}

	w := multipart.NewWriter(buf)
	field := func(name, value string) {
		if value != "" {
			w.WriteField(name, value)
		}
	}

	field("from", from.String())
	addrFields(field, "to", env.To)
	addrFields(field, "cc", env.Cc)
	addrFields(field, "bcc", env.Bcc)
	field("subject", env.Subject)
	field("text", env.TextContent())
	field("html", env.HTMLContent())
	if replyTo, ok := firstReplyTo(env); ok {
		field("h:Reply-To", replyTo.String())
	}
	field("h:Message-Id", env.MessageID)
	if env.ReturnPath != "" {
		field("h:Sender", env.ReturnPath)
	}
	for k, v := range extraHeaders(env) {
		field("h:"+k, v)
	}

	for _, p := range parts {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachment"; filename=%q`, p.Name))
		if p.ContentType != "" {
			header.Set("Content-Type", p.ContentType)
		}
		pw, err := w.CreatePart(header)
		if err != nil {
			return "", fmt.Errorf("failed to add attachment: %w", err)
		}
		if _, err := pw.Write(p.Content); err != nil {
			return "", fmt.Errorf("failed to add attachment: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}
	return w.FormDataContentType(), nil
}

// mimeForm sends the rendered message. Mailgun takes the delivery list
// from the to fields, so Bcc recipients go there too.
func (m *Mailgun) mimeForm(buf *bytes.Buffer, env *envelope.Envelope) (string, error) {
	raw, err := env.Bytes()
	if err != nil {
		return "", fmt.Errorf("failed to build message: %w", err)
	}

	w := multipart.NewWriter(buf)
	for _, rcpt := range env.Recipients() {
		w.WriteField("to", rcpt)
	}
	fw, err := w.CreateFormFile("message", "message.mime")
	if err != nil {
		return "", fmt.Errorf("failed to add message: %w", err)
	}
	if _, err := fw.Write(raw); err != nil {
		return "", fmt.Errorf("failed to add message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish form: %w", err)
	}
	return w.FormDataContentType(), nil
}

func addrFields(field func(name, value string), name string, addrs []email.Address) {
	for _, a := range addrs {
		field(name, a.String())
	}
}
