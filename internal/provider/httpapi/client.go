// Package httpapi implements Providers for vendor REST mail APIs: Mailgun,
// Mailjet, Postmark, SendGrid, Brevo (Sendinblue) and OhMySMTP. Each
// vendor makes exactly one request per send.
package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

const defaultHTTPTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is kept in a SendError.
const maxErrorBody = 4 << 10

// client performs the single HTTP call a vendor send makes.
type client struct {
	name    string
	baseURL string
	http    *http.Client
	auth    func(*http.Request)
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// newClient returns a client rooted at baseURL, or at fallback when
// baseURL is empty. A nil http client gets a 30s timeout.
func newClient(name, baseURL, fallback string, hc *http.Client, auth func(*http.Request)) *client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if baseURL == "" {
		baseURL = fallback
	}
	return &client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		auth:    auth,
	}
}

func (c *client) postJSON(ctx context.Context, path string, payload any) (*response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return c.post(ctx, path, "application/json", bytes.NewReader(body))
}

// post sends one request. Any non-2xx status becomes a *provider.SendError
// carrying the vendor's error message when one can be found.
func (c *client) post(ctx context.Context, path, contentType string, body io.Reader) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &provider.SendError{
			Provider: c.name,
			Message:  fmt.Sprintf("HTTP request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.SendError{
			Provider:   c.name,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		sendErr := &provider.SendError{
			Provider:   c.name,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data, resp.StatusCode),
		}
		slog.Warn("vendor API error", "provider", c.name, "status", resp.StatusCode, "error", sendErr.Message)
		return nil, sendErr
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// errorMessage digs the human-readable message out of a vendor error body.
func errorMessage(body []byte, status int) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err == nil {
		for _, key := range []string{"message", "Message", "ErrorMessage", "error"} {
			if s, ok := doc[key].(string); ok && s != "" {
				return s
			}
		}
		if msg := nestedMessage(doc["errors"]); msg != "" {
			return msg
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return http.StatusText(status)
	}
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}

// nestedMessage handles both [{"message": ...}] and {"field": ["..."]}
// error shapes.
func nestedMessage(v any) string {
	switch errs := v.(type) {
	case []any:
		for _, e := range errs {
			if m, ok := e.(map[string]any); ok {
				if s, ok := m["message"].(string); ok && s != "" {
					return s
				}
			}
		}
	case map[string]any:
		var parts []string
		for field, msgs := range errs {
			if list, ok := msgs.([]any); ok && len(list) > 0 {
				parts = append(parts, fmt.Sprintf("%s %v", field, list[0]))
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

// encodedPart is an attachment ready for a JSON body.
type encodedPart struct {
	Name        string
	ContentType string
	Content     string
}

func encodeParts(env *envelope.Envelope) ([]encodedPart, error) {
	parts, err := env.LoadParts()
	if err != nil {
		return nil, err
	}
	out := make([]encodedPart, 0, len(parts))
	for _, p := range parts {
		contentType := p.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		out = append(out, encodedPart{
			Name:        p.Name,
			ContentType: contentType,
			Content:     base64.StdEncoding.EncodeToString(p.Content),
		})
	}
	return out, nil
}

// extraHeaders returns the custom headers plus X-Priority when set.
func extraHeaders(env *envelope.Envelope) map[string]string {
	custom := env.CustomHeaders()
	if len(custom) == 0 && env.Priority == 0 {
		return nil
	}
	out := make(map[string]string, len(custom)+1)
	for k, v := range custom {
		out[k] = v
	}
	if env.Priority > 0 {
		out["X-Priority"] = strconv.Itoa(env.Priority)
	}
	return out
}

// headerList formats addresses as a comma separated header value.
func headerList(addrs []email.Address) string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return strings.Join(out, ", ")
}

// sender formats the From address, failing when there is none: every
// vendor API rejects a send without one.
func sender(name string, env *envelope.Envelope) (email.Address, error) {
	if env.From.Address == "" {
		return email.Address{}, &provider.SendError{Provider: name, Message: "a valid sender address is required"}
	}
	return env.From, nil
}

func firstReplyTo(env *envelope.Envelope) (email.Address, bool) {
	if len(env.ReplyTo) == 0 {
		return email.Address{}, false
	}
	return env.ReplyTo[0], true
}

func basicAuth(user, pass string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func headerAuth(name, value string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set(name, value) }
}
