// Package result defines SendResult, the single outcome type returned by
// every send operation.
package result

import (
	"encoding/json"
	"maps"
)

// Severity classifies an outcome.
type Severity string

const (
	SeverityOK    Severity = "OK"
	SeverityError Severity = "ERROR"
)

// Machine-readable outcome codes.
const (
	CodeOK                 = "OK"
	CodeConfigInvalid      = "config_invalid"
	CodeMessageInvalid     = "message_invalid"
	CodeAttachmentNotFound = "attachment_not_found"
	CodeUnresolvedProvider = "unresolved_provider"
	CodeTransportFailure   = "transport_failure"
	CodeGatewayRejected    = "gateway_rejected"
)

// SendResult is an immutable outcome of a send or validation call.
type SendResult struct {
	message  string
	code     string
	severity Severity
	ok       bool
	extra    map[string]any
}

// OK builds a successful result. extra may be nil.
func OK(message string, extra map[string]any) SendResult {
	return SendResult{
		message:  message,
		code:     CodeOK,
		severity: SeverityOK,
		ok:       true,
		extra:    maps.Clone(extra),
	}
}

// Error builds a failed result with the given machine code. extra may be nil.
func Error(code, message string, extra map[string]any) SendResult {
	return SendResult{
		message:  message,
		code:     code,
		severity: SeverityError,
		extra:    maps.Clone(extra),
	}
}

func (r SendResult) Message() string    { return r.message }
func (r SendResult) Code() string       { return r.code }
func (r SendResult) Severity() Severity { return r.severity }
func (r SendResult) OK() bool           { return r.ok }

// Extra returns a copy of the structured data attached to the result,
// or nil when there is none.
func (r SendResult) Extra() map[string]any {
	return maps.Clone(r.extra)
}

// Get returns a single extra value.
func (r SendResult) Get(key string) (any, bool) {
	v, ok := r.extra[key]
	return v, ok
}

type wireResult struct {
	Message  string         `json:"message"`
	Code     string         `json:"code"`
	Severity Severity       `json:"severity"`
	OK       bool           `json:"ok"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// MarshalJSON renders the result for logs and CLI output.
func (r SendResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireResult{
		Message:  r.message,
		Code:     r.code,
		Severity: r.severity,
		OK:       r.ok,
		Extra:    r.extra,
	})
}
