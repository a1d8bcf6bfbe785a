package resend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shineum/maildispatch/internal/attachment"
	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

func testEnvelope(parts ...attachment.Resolved) *envelope.Envelope {
	msg := email.NewMessage().
		SetFrom("sender@example.com", "Sender").
		AddTo("to@example.com", "").
		AddTo("broken", "").
		AddCc("cc@example.com", "").
		SetReplyTo("reply@example.com", "").
		SetSubject("Launch").
		SetHTML("<p>we are live</p>", "").
		SetHeader("X-Campaign", "launch")
	return envelope.New(msg, parts)
}

type capturedRequest struct {
	path string
	auth string
	body map[string]any
}

func resendServer(t *testing.T, status int, body string) (*httptest.Server, *capturedRequest, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		captured.path = r.URL.Path
		captured.auth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &captured.body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, captured, &calls
}

func newTestProvider(t *testing.T, srv *httptest.Server) *Provider {
	t.Helper()
	p, err := New(Config{APIKey: "re_key", BaseURL: srv.URL}, srv.Client())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p
}

func TestProvider_Send(t *testing.T) {
	t.Parallel()

	srv, captured, calls := resendServer(t, http.StatusOK, `{"id":"49a3999c-0ce1-4ea6-ab68-afcd6dc2e794"}`)
	p := newTestProvider(t, srv)

	env := testEnvelope(attachment.Resolved{Name: "notes.txt", ContentType: "text/plain", Content: []byte("hi")})
	receipt, err := p.Send(context.Background(), env)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if receipt.MessageID != "49a3999c-0ce1-4ea6-ab68-afcd6dc2e794" {
		t.Errorf("MessageID = %q", receipt.MessageID)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
	if captured.path != "/emails" {
		t.Errorf("path = %q, want /emails", captured.path)
	}
	if captured.auth != "Bearer re_key" {
		t.Errorf("Authorization = %q", captured.auth)
	}

	b := captured.body
	if b["from"] != `"Sender" <sender@example.com>` {
		t.Errorf("from = %v", b["from"])
	}
	if to, _ := b["to"].([]any); len(to) != 1 || to[0] != "to@example.com" {
		t.Errorf("to = %v, want only the valid address", b["to"])
	}
	if b["subject"] != "Launch" || b["html"] != "<p>we are live</p>" {
		t.Errorf("subject/html = %v / %v", b["subject"], b["html"])
	}
	headers, _ := b["headers"].(map[string]any)
	if headers["X-Campaign"] != "launch" || headers["Message-ID"] != env.MessageID {
		t.Errorf("headers = %v", headers)
	}
	if atts, _ := b["attachments"].([]any); len(atts) != 1 {
		t.Errorf("attachments = %v", b["attachments"])
	}
}

func TestProvider_SendError(t *testing.T) {
	t.Parallel()

	srv, _, calls := resendServer(t, http.StatusUnprocessableEntity,
		`{"statusCode":422,"name":"validation_error","message":"Invalid from field."}`)
	p := newTestProvider(t, srv)

	_, err := p.Send(context.Background(), testEnvelope())
	var sendErr *provider.SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected *provider.SendError, got %T: %v", err, err)
	}
	if sendErr.Provider != "resend" {
		t.Errorf("Provider = %q", sendErr.Provider)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want exactly 1 attempt", calls.Load())
	}
}

func TestProvider_RequiresSender(t *testing.T) {
	t.Parallel()

	srv, _, calls := resendServer(t, http.StatusOK, `{"id":"x"}`)
	p := newTestProvider(t, srv)

	env := envelope.New(email.NewMessage().AddTo("to@example.com", "").SetSubject("s"), nil)
	if _, err := p.Send(context.Background(), env); err == nil {
		t.Fatal("expected error without sender")
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestProvider_FallsBackToEnvelopeMessageID(t *testing.T) {
	t.Parallel()

	srv, _, _ := resendServer(t, http.StatusOK, `{}`)
	p := newTestProvider(t, srv)

	env := testEnvelope()
	receipt, err := p.Send(context.Background(), env)
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if receipt.MessageID != env.MessageID {
		t.Errorf("MessageID = %q, want %q", receipt.MessageID, env.MessageID)
	}
}

func TestNew_InvalidBaseURL(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{APIKey: "k", BaseURL: "://bad"}, nil); err == nil {
		t.Fatal("expected error for invalid base url")
	}
}

func TestProvider_Name(t *testing.T) {
	t.Parallel()

	p, err := New(Config{APIKey: "k"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "resend" {
		t.Errorf("Name() = %q", p.Name())
	}
}
