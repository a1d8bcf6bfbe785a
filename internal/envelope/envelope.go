// Package envelope builds the generic outbound representation of a message
// that native transports consume, and renders or parses it as RFC 5322.
package envelope

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/shineum/maildispatch/internal/attachment"
	"github.com/shineum/maildispatch/internal/email"
)

// defaultDomain is used for Message-IDs when the sender has no usable domain.
const defaultDomain = "maildispatch.local"

// Envelope is a message bound for a transport. Every address in it has
// passed syntax validation; invalid ones were dropped when it was built.
type Envelope struct {
	MessageID  string
	From       email.Address
	To         []email.Address
	Cc         []email.Address
	Bcc        []email.Address
	ReplyTo    []email.Address
	ReturnPath string
	Subject    string
	Priority   int
	Text       *email.Body
	HTML       *email.Body
	Date       string
	Headers    map[string]string
	Parts      []attachment.Resolved
}

// New builds an envelope from msg and its resolved attachments.
func New(msg *email.Message, parts []attachment.Resolved) *Envelope {
	env := &Envelope{
		To:       email.ValidAddresses(msg.To()),
		Cc:       email.ValidAddresses(msg.Cc()),
		Bcc:      email.ValidAddresses(msg.Bcc()),
		Subject:  msg.Subject(),
		Priority: msg.Priority(),
		Date:     msg.Date(),
		Headers:  msg.Headers(),
		Parts:    parts,
	}
	if from, ok := msg.From(); ok && from.Valid() {
		env.From = from
	}
	if replyTo, ok := msg.ReplyTo(); ok && replyTo.Valid() {
		env.ReplyTo = []email.Address{replyTo}
	}
	if rp := (email.Address{Address: msg.ReturnPath()}); rp.Valid() {
		env.ReturnPath = rp.Address
	}
	if text, ok := msg.Text(); ok {
		env.Text = &text
	}
	if html, ok := msg.HTML(); ok {
		env.HTML = &html
	}
	env.MessageID = newMessageID(env.From.Address)
	return env
}

// Recipients returns every envelope recipient: To, then Cc, then Bcc.
func (e *Envelope) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, email.Bare(e.To)...)
	out = append(out, email.Bare(e.Cc)...)
	out = append(out, email.Bare(e.Bcc)...)
	return out
}

// Sender is the SMTP reverse path: the return path when set, otherwise From.
func (e *Envelope) Sender() string {
	if e.ReturnPath != "" {
		return e.ReturnPath
	}
	return e.From.Address
}

// TextContent returns the plain-text body or "".
func (e *Envelope) TextContent() string {
	if e.Text == nil {
		return ""
	}
	return e.Text.Content
}

// HTMLContent returns the HTML body or "".
func (e *Envelope) HTMLContent() string {
	if e.HTML == nil {
		return ""
	}
	return e.HTML.Content
}

// CustomHeaders returns the custom headers that are safe to emit. Keys that
// are malformed or would shadow a header built from the envelope fields are
// dropped.
func (e *Envelope) CustomHeaders() map[string]string {
	return lo.PickBy(e.Headers, func(k, _ string) bool {
		return email.CustomHeaderAllowed(k)
	})
}

// LoadParts returns the attachments with content in memory, for transports
// that cannot stream from disk.
func (e *Envelope) LoadParts() ([]attachment.Resolved, error) {
	out := make([]attachment.Resolved, 0, len(e.Parts))
	for _, p := range e.Parts {
		loaded, err := LoadPart(p)
		if err != nil {
			return nil, err
		}
		out = append(out, loaded)
	}
	return out, nil
}

// LoadPart reads a path attachment into memory, filling in its name from
// the file name and its content type from the file content when missing.
// In-memory attachments are returned unchanged.
func LoadPart(p attachment.Resolved) (attachment.Resolved, error) {
	if p.Path == "" {
		return p, nil
	}

	data, err := os.ReadFile(p.Path)
	if err != nil {
		return attachment.Resolved{}, fmt.Errorf("failed to read attachment: %w", err)
	}

	out := attachment.Resolved{
		Name:        p.Name,
		ContentType: p.ContentType,
		Content:     data,
	}
	if out.Name == "" {
		out.Name = filepath.Base(p.Path)
	}
	if out.ContentType == "" {
		out.ContentType, _, _ = strings.Cut(mimetype.Detect(data).String(), ";")
	}
	return out, nil
}

func newMessageID(from string) string {
	domain := defaultDomain
	if _, d, ok := strings.Cut(from, "@"); ok && d != "" {
		domain = d
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
