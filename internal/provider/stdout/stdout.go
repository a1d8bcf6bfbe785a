// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/maildispatch/internal/attachment"
	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

// Provider prints envelopes in a human-readable format. It is meant for
// development: nothing leaves the machine.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the envelope. The receipt carries the envelope's Message-ID.
func (p *Provider) Send(_ context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Message-ID: %s\n", env.MessageID)
	fmt.Fprintf(&b, "From: %s\n", env.From.String())
	fmt.Fprintf(&b, "To: %s\n", joinAddresses(env.To))

	if len(env.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinAddresses(env.Cc))
	}
	if len(env.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinAddresses(env.Bcc))
	}
	if len(env.ReplyTo) > 0 {
		fmt.Fprintf(&b, "Reply-To: %s\n", joinAddresses(env.ReplyTo))
	}

	fmt.Fprintf(&b, "Subject: %s\n", env.Subject)
	b.WriteString("Body:\n")

	body := env.TextContent()
	if body == "" {
		body = env.HTMLContent()
	}
	b.WriteString(body + "\n")

	if len(env.Parts) > 0 {
		attachments := make([]string, 0, len(env.Parts))
		for _, part := range env.Parts {
			attachments = append(attachments, describe(part))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString("========================================\n")

	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return provider.Receipt{}, &provider.SendError{Provider: p.Name(), Message: err.Error()}
	}

	return provider.Receipt{MessageID: env.MessageID}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func joinAddresses(addrs []email.Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, ", ")
}

func describe(part attachment.Resolved) string {
	if part.Path == "" {
		return fmt.Sprintf("%s (%s)", part.Name, formatSize(len(part.Content)))
	}
	name := part.Name
	if name == "" {
		name = part.Path
	}
	info, err := os.Stat(part.Path)
	if err != nil {
		return name + " (unreadable)"
	}
	return fmt.Sprintf("%s (%s)", name, formatSize(int(info.Size())))
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
