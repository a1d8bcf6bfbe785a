// Package gateway sends messages through the maildocker HTTP mail API, a
// JSON gateway with its own document format.
package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"

	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
)

// Contact is an address in gateway form.
type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Attachment is a base64 embedded file.
type Attachment struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
}

// Document is the request body the gateway accepts. Empty fields are left
// out of the JSON.
type Document struct {
	From        *Contact     `json:"from,omitempty"`
	To          []Contact    `json:"to,omitempty"`
	Cc          []Contact    `json:"cc,omitempty"`
	Bcc         []Contact    `json:"bcc,omitempty"`
	Subject     string       `json:"subject,omitempty"`
	Text        string       `json:"text,omitempty"`
	HTML        string       `json:"html,omitempty"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	Date        string       `json:"date,omitempty"`
	Headers     string       `json:"headers,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// BuildDocument converts an envelope into a gateway document.
//
// When the envelope has no To recipient, the first Cc is promoted to To,
// or failing that the first Bcc, so the gateway always gets a primary
// recipient when any exists. Path attachments are read and embedded.
func BuildDocument(env *envelope.Envelope) (Document, error) {
	doc := Document{
		Subject: env.Subject,
		Text:    env.TextContent(),
		HTML:    env.HTMLContent(),
		Date:    env.Date,
	}

	if env.From.Address != "" {
		doc.From = &Contact{Email: env.From.Address, Name: env.From.Display()}
	}

	to, cc, bcc := foldRecipients(env.To, env.Cc, env.Bcc)
	doc.To = contacts(to)
	doc.Cc = contacts(cc)
	doc.Bcc = contacts(bcc)

	if len(env.ReplyTo) > 0 {
		doc.ReplyTo = env.ReplyTo[0].Address
	}

	if custom := env.CustomHeaders(); len(custom) > 0 {
		headers, err := json.Marshal(custom)
		if err != nil {
			return Document{}, fmt.Errorf("failed to encode headers: %w", err)
		}
		doc.Headers = string(headers)
	}

	parts, err := env.LoadParts()
	if err != nil {
		return Document{}, err
	}
	for _, p := range parts {
		doc.Attachments = append(doc.Attachments, Attachment{
			Name:    p.Name,
			Type:    p.ContentType,
			Content: base64.StdEncoding.EncodeToString(p.Content),
		})
	}

	return doc, nil
}

// foldRecipients promotes the first Cc, else the first Bcc, to To when To
// is empty. The inputs are already syntax-filtered.
func foldRecipients(to, cc, bcc []email.Address) ([]email.Address, []email.Address, []email.Address) {
	if len(to) > 0 {
		return to, cc, bcc
	}
	if len(cc) > 0 {
		return cc[:1], cc[1:], bcc
	}
	if len(bcc) > 0 {
		return bcc[:1], cc, bcc[1:]
	}
	return to, cc, bcc
}

func contacts(addrs []email.Address) []Contact {
	if len(addrs) == 0 {
		return nil
	}
	return lo.Map(addrs, func(a email.Address, _ int) Contact {
		return Contact{Email: a.Address, Name: a.Name}
	})
}
