package email

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Document is the serializable shape of a Message. It is what the mail
// schema is checked against and what message files decode into.
type Document struct {
	From        Address              `json:"from" yaml:"from"`
	ReplyTo     *Address             `json:"replyTo,omitempty" yaml:"replyTo,omitempty" validate:"omitempty"`
	ReturnPath  string               `json:"returnPath,omitempty" yaml:"returnPath,omitempty"`
	To          []Address            `json:"to" yaml:"to" validate:"dive"`
	Cc          []Address            `json:"cc" yaml:"cc" validate:"dive"`
	Bcc         []Address            `json:"bcc" yaml:"bcc" validate:"dive"`
	Subject     string               `json:"subject" yaml:"subject" validate:"required"`
	Text        *Body                `json:"text,omitempty" yaml:"text,omitempty" validate:"omitempty"`
	HTML        *Body                `json:"html,omitempty" yaml:"html,omitempty" validate:"omitempty"`
	Date        string               `json:"date,omitempty" yaml:"date,omitempty"`
	Priority    int                  `json:"priority" yaml:"priority" validate:"min=1,max=5"`
	Headers     map[string]string    `json:"headers,omitempty" yaml:"headers,omitempty"`
	Attachments []AttachmentDocument `json:"attachments" yaml:"attachments" validate:"dive"`
}

// AttachmentDocument is the serializable shape of an Attachment. Exactly one
// of Body, Path and URL is expected to be set.
type AttachmentDocument struct {
	Body        string `json:"body,omitempty" yaml:"body,omitempty"`
	Path        string `json:"path,omitempty" yaml:"path,omitempty"`
	URL         string `json:"url,omitempty" yaml:"url,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	ContentType string `json:"content_type,omitempty" yaml:"content_type,omitempty"`
}

// Document snapshots the message into its serializable shape.
func (m *Message) Document() Document {
	doc := Document{
		ReturnPath:  m.returnPath,
		To:          m.To(),
		Cc:          m.Cc(),
		Bcc:         m.Bcc(),
		Subject:     m.subject,
		Date:        m.date,
		Priority:    m.priority,
		Headers:     m.Headers(),
		Attachments: make([]AttachmentDocument, 0, len(m.attachments)),
	}
	if m.from != nil {
		doc.From = *m.from
	}
	if m.replyTo != nil {
		replyTo := *m.replyTo
		doc.ReplyTo = &replyTo
	}
	if m.text != nil {
		text := *m.text
		doc.Text = &text
	}
	if m.html != nil {
		html := *m.html
		doc.HTML = &html
	}
	for _, a := range m.attachments {
		doc.Attachments = append(doc.Attachments, a.document())
	}
	return doc
}

// Message rebuilds a Message from the document.
func (d Document) Message() *Message {
	m := NewMessage()
	if d.From != (Address{}) {
		m.SetFrom(d.From.Address, d.From.Name)
	}
	m.Add(FieldTo, d.To...)
	m.Add(FieldCc, d.Cc...)
	m.Add(FieldBcc, d.Bcc...)
	if d.ReplyTo != nil {
		m.SetReplyTo(d.ReplyTo.Address, d.ReplyTo.Name)
	}
	m.SetReturnPath(d.ReturnPath)
	m.SetSubject(d.Subject)
	if d.Text != nil {
		m.SetText(d.Text.Content, d.Text.Charset)
	}
	if d.HTML != nil {
		m.SetHTML(d.HTML.Content, d.HTML.Charset)
	}
	m.SetDate(d.Date)
	if d.Priority != 0 {
		m.SetPriority(d.Priority)
	}
	for k, v := range d.Headers {
		m.SetHeader(k, v)
	}
	for _, a := range d.Attachments {
		switch {
		case a.Path != "":
			m.AddAttachment(FromPath(a.Path, a.Name))
		case a.URL != "":
			m.AddAttachment(FromURL(a.URL, a.Name))
		default:
			m.AddAttachment(Inline([]byte(a.Body), a.Name, a.ContentType))
		}
	}
	return m
}

// DecodeDocument reads a message document in YAML or JSON form.
func DecodeDocument(r io.Reader) (*Document, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode message document: %w", err)
	}
	return &doc, nil
}
