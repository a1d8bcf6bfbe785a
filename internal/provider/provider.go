// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"
	"fmt"

	"github.com/shineum/maildispatch/internal/envelope"
)

// Provider is the interface that email delivery backends must implement.
// Each provider translates an envelope into its backend's wire format and
// delivers it (e.g., SMTP, SES, Mailgun, the Microsoft Graph API).
type Provider interface {
	// Send delivers the envelope through this provider. It makes exactly
	// one delivery attempt.
	Send(ctx context.Context, env *envelope.Envelope) (Receipt, error)

	// Name returns the human-readable name of this provider.
	Name() string
}

// Receipt is what a backend reports for an accepted message.
type Receipt struct {
	// MessageID is the backend-assigned identifier, or the envelope's
	// Message-ID when the backend assigns none.
	MessageID string
}

// SendError is a delivery failure reported by a backend.
type SendError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *SendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Permanent reports whether resending the same request cannot succeed.
func (e *SendError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != 429
}
