package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shineum/maildispatch/internal/config"
	"github.com/shineum/maildispatch/internal/email"
	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/gateway"
	"github.com/shineum/maildispatch/internal/provider"
	"github.com/shineum/maildispatch/internal/result"
	"github.com/shineum/maildispatch/internal/smtpsink"
)

// mockTransport records every envelope it is handed.
type mockTransport struct {
	mu        sync.Mutex
	callCount int
	envs      []*envelope.Envelope
	err       error
	panicWith any
	block     bool
}

func (m *mockTransport) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	m.mu.Lock()
	m.callCount++
	m.envs = append(m.envs, env)
	m.mu.Unlock()

	if m.panicWith != nil {
		panic(m.panicWith)
	}
	if m.block {
		<-ctx.Done()
		return provider.Receipt{}, ctx.Err()
	}
	if m.err != nil {
		return provider.Receipt{}, m.err
	}
	return provider.Receipt{MessageID: env.MessageID}, nil
}

func (m *mockTransport) Name() string { return "mock" }

func (m *mockTransport) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// mockFetcher counts every remote lookup.
type mockFetcher struct {
	mu        sync.Mutex
	callCount int
}

func (f *mockFetcher) count() {
	f.mu.Lock()
	f.callCount++
	f.mu.Unlock()
}

func (f *mockFetcher) Exists(context.Context, string) bool { f.count(); return true }
func (f *mockFetcher) Header(context.Context, string, string) (string, error) {
	f.count()
	return "application/pdf", nil
}
func (f *mockFetcher) Body(context.Context, string) ([]byte, error) {
	f.count()
	return []byte("%PDF-1.4"), nil
}

var smtpBinding = config.Binding{Provider: config.ProviderSMTP}

func smtpProvider() *config.Provider {
	return &config.Provider{
		Provider: config.ProviderSMTP,
		Host:     "mail.example.com",
		Username: "user",
		Password: "secret",
	}
}

func testMessage() *email.Message {
	return email.NewMessage().
		SetFrom("sender@example.com", "Sender").
		AddTo("to@example.com", "To").
		SetSubject("Quarterly report").
		SetText("numbers attached", "")
}

// newTestMailer binds the smtp provider to a mock transport.
func newTestMailer(t *testing.T, transport *mockTransport, opts ...Option) *Mailer {
	t.Helper()
	factory := func(context.Context, *config.Provider, *http.Client) (provider.Provider, error) {
		return transport, nil
	}
	m, err := New(append([]Option{WithFactory(smtpBinding, factory)}, opts...)...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return m
}

func TestValidate_ConfigCheckedBeforeMessage(t *testing.T) {
	t.Parallel()

	m := newTestMailer(t, &mockTransport{})
	badMessage := email.NewMessage()

	tests := []struct {
		name     string
		cfg      *config.Provider
		wantCode string
		wantMsg  string
	}{
		{"nil config", nil, result.CodeConfigInvalid, "Invalid configuration"},
		{"unknown provider", &config.Provider{Provider: "carrier-pigeon"}, result.CodeConfigInvalid, "Invalid configuration"},
		{"missing credentials", &config.Provider{Provider: config.ProviderMailgun, Driver: config.DriverAPI}, result.CodeConfigInvalid, "Invalid configuration"},
		{"valid config", smtpProvider(), result.CodeMessageInvalid, "Invalid message"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := m.Validate(badMessage, tt.cfg)
			if r.OK() {
				t.Fatal("expected failure")
			}
			if r.Code() != tt.wantCode {
				t.Errorf("code = %q, want %q", r.Code(), tt.wantCode)
			}
			if r.Message() != tt.wantMsg {
				t.Errorf("message = %q, want %q", r.Message(), tt.wantMsg)
			}
			if r.Severity() != result.SeverityError {
				t.Errorf("severity = %q, want ERROR", r.Severity())
			}
		})
	}
}

func TestValidate_ConfigErrorsDoNotMentionMessage(t *testing.T) {
	t.Parallel()

	m := newTestMailer(t, &mockTransport{})
	r := m.Validate(email.NewMessage(), &config.Provider{})

	errs, ok := r.Get("errors")
	if !ok {
		t.Fatal("expected errors in extra")
	}
	data, err := json.Marshal(errs)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "subject") {
		t.Errorf("message errors leaked into config failure: %s", data)
	}
	if !strings.Contains(string(data), "provider") {
		t.Errorf("expected provider error, got %s", data)
	}
}

func TestValidate_OK(t *testing.T) {
	t.Parallel()

	m := newTestMailer(t, &mockTransport{})
	r := m.Validate(testMessage(), smtpProvider())
	if !r.OK() {
		t.Fatalf("expected OK, got %q: %v", r.Message(), r.Extra())
	}
	if len(r.Extra()) != 0 {
		t.Errorf("expected no extra, got %v", r.Extra())
	}
}

func TestSend_Success(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{}
	m := newTestMailer(t, transport)

	r := m.Send(context.Background(), testMessage(), smtpProvider())
	if !r.OK() {
		t.Fatalf("expected OK, got %q", r.Message())
	}
	if transport.calls() != 1 {
		t.Fatalf("callCount = %d, want 1", transport.calls())
	}
	if r.Message() != "Mail sent" {
		t.Errorf("message = %q", r.Message())
	}
	if id, _ := r.Get("message_id"); id != transport.envs[0].MessageID {
		t.Errorf("message_id = %v, want %q", id, transport.envs[0].MessageID)
	}
	if p, _ := r.Get("provider"); p != "smtp" {
		t.Errorf("provider = %v", p)
	}
}

func TestSend_FiltersInvalidAddresses(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{}
	m := newTestMailer(t, transport)

	msg := testMessage().
		AddTo("not-an-address", "").
		AddCc("cc@example.com", "").
		AddCc("@broken", "").
		AddBcc("bcc@example.com", "")

	if r := m.Send(context.Background(), msg, smtpProvider()); !r.OK() {
		t.Fatalf("expected OK, got %q", r.Message())
	}

	want := []string{"to@example.com", "cc@example.com", "bcc@example.com"}
	if got := transport.envs[0].Recipients(); !reflect.DeepEqual(got, want) {
		t.Errorf("recipients = %v, want %v", got, want)
	}
}

func TestSend_UnresolvedProviderMakesNoCalls(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{}
	fetcher := &mockFetcher{}
	factoryCalls := 0
	factory := func(context.Context, *config.Provider, *http.Client) (provider.Provider, error) {
		factoryCalls++
		return transport, nil
	}
	m, err := New(
		WithFactory(config.Binding{Provider: config.ProviderMailgun, Driver: config.DriverAPI}, factory),
		WithFetcher(fetcher),
	)
	if err != nil {
		t.Fatal(err)
	}

	msg := testMessage().AddAttachment(email.FromURL("https://files.example.com/report.pdf", "report.pdf"))
	cfg := &config.Provider{Provider: config.ProviderMailgun, Driver: "ftp", Key: "key", Domain: "example.com"}

	r := m.Send(context.Background(), msg, cfg)
	if r.OK() {
		t.Fatal("expected failure")
	}
	if r.Message() != "Invalid provider: mailgun" {
		t.Errorf("message = %q", r.Message())
	}
	if r.Code() != result.CodeUnresolvedProvider {
		t.Errorf("code = %q", r.Code())
	}
	if factoryCalls != 0 || transport.calls() != 0 || fetcher.callCount != 0 {
		t.Errorf("factory=%d transport=%d fetcher=%d, want no calls", factoryCalls, transport.calls(), fetcher.callCount)
	}
}

func TestSend_MissingAttachment(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{}
	m := newTestMailer(t, transport)

	msg := testMessage().AddAttachment(email.FromPath("/nonexistent/x.pdf", ""))
	r := m.Send(context.Background(), msg, smtpProvider())

	if r.OK() {
		t.Fatal("expected failure")
	}
	if r.Message() != "Attachment not found: /nonexistent/x.pdf" {
		t.Errorf("message = %q", r.Message())
	}
	if r.Code() != result.CodeAttachmentNotFound {
		t.Errorf("code = %q", r.Code())
	}
	if transport.calls() != 0 {
		t.Errorf("callCount = %d, want 0", transport.calls())
	}
}

func TestSend_URLAttachmentReachesTransport(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{}
	m := newTestMailer(t, transport, WithFetcher(&mockFetcher{}))

	msg := testMessage().AddAttachment(email.FromURL("https://files.example.com/report", ""))
	if r := m.Send(context.Background(), msg, smtpProvider()); !r.OK() {
		t.Fatalf("expected OK, got %q", r.Message())
	}

	parts := transport.envs[0].Parts
	if len(parts) != 1 {
		t.Fatalf("parts = %d, want 1", len(parts))
	}
	if parts[0].Name != "file_1.pdf" || parts[0].ContentType != "application/pdf" {
		t.Errorf("part = %+v", parts[0])
	}
}

func TestSend_TransportFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		transport     *mockTransport
		wantMsg       string
		wantPermanent any
	}{
		{
			name:          "rejected",
			transport:     &mockTransport{err: &provider.SendError{Provider: "mock", StatusCode: 401, Message: "bad key"}},
			wantMsg:       "mock: HTTP 401: bad key",
			wantPermanent: true,
		},
		{
			name:          "throttled",
			transport:     &mockTransport{err: &provider.SendError{Provider: "mock", StatusCode: 429, Message: "slow down"}},
			wantMsg:       "mock: HTTP 429: slow down",
			wantPermanent: false,
		},
		{
			name:      "plain error",
			transport: &mockTransport{err: errors.New("connection reset")},
			wantMsg:   "connection reset",
		},
		{
			name:      "panic",
			transport: &mockTransport{panicWith: "boom"},
			wantMsg:   "mock: transport panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newTestMailer(t, tt.transport)
			r := m.Send(context.Background(), testMessage(), smtpProvider())
			if r.OK() {
				t.Fatal("expected failure")
			}
			if r.Code() != result.CodeTransportFailure {
				t.Errorf("code = %q", r.Code())
			}
			if r.Message() != tt.wantMsg {
				t.Errorf("message = %q, want %q", r.Message(), tt.wantMsg)
			}
			if tt.transport.calls() != 1 {
				t.Errorf("callCount = %d, want exactly 1 attempt", tt.transport.calls())
			}
			permanent, ok := r.Get("permanent")
			if ok != (tt.wantPermanent != nil) || permanent != tt.wantPermanent {
				t.Errorf("permanent = %v (present %v), want %v", permanent, ok, tt.wantPermanent)
			}
		})
	}
}

func TestSend_FactoryError(t *testing.T) {
	t.Parallel()

	factory := func(context.Context, *config.Provider, *http.Client) (provider.Provider, error) {
		return nil, errors.New("no credentials source")
	}
	m, err := New(WithFactory(smtpBinding, factory))
	if err != nil {
		t.Fatal(err)
	}

	r := m.Send(context.Background(), testMessage(), smtpProvider())
	if r.Code() != result.CodeTransportFailure || r.Message() != "no credentials source" {
		t.Errorf("got %q %q", r.Code(), r.Message())
	}
}

func TestSend_Timeout(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{block: true}
	cfg := &config.Config{Send: config.SendConfig{Timeout: 50 * time.Millisecond}}
	m := newTestMailer(t, transport, WithConfig(cfg))

	start := time.Now()
	r := m.Send(context.Background(), testMessage(), smtpProvider())
	if r.OK() {
		t.Fatal("expected failure")
	}
	if !strings.Contains(r.Message(), context.DeadlineExceeded.Error()) {
		t.Errorf("message = %q", r.Message())
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("send took %v", elapsed)
	}
}

func TestSend_Idempotent(t *testing.T) {
	t.Parallel()

	transport := &mockTransport{}
	m := newTestMailer(t, transport)
	msg := testMessage().AddCc("cc@example.com", "")
	before := msg.Document()

	first := m.Send(context.Background(), msg, smtpProvider())
	second := m.Send(context.Background(), msg, smtpProvider())

	if !first.OK() || !second.OK() {
		t.Fatalf("expected both sends to succeed: %q, %q", first.Message(), second.Message())
	}
	if transport.calls() != 2 {
		t.Fatalf("callCount = %d, want 2", transport.calls())
	}
	a, b := transport.envs[0], transport.envs[1]
	if a.Subject != b.Subject || !reflect.DeepEqual(a.Recipients(), b.Recipients()) || a.TextContent() != b.TextContent() {
		t.Error("envelopes differ between sends")
	}
	if !reflect.DeepEqual(before, msg.Document()) {
		t.Error("message was mutated by Send")
	}
}

func TestDefaultFactories(t *testing.T) {
	t.Parallel()

	factories := DefaultFactories()
	cfg := &config.Provider{
		Host: "relay.example.com", Username: "u", Password: "p", Key: "k", Domain: "example.com",
		Region: "eu-west-1", AccessKey: "ak", SecretKey: "sk", ID: "id", APIToken: "tok",
		TenantID: "tenant", ClientID: "client", ClientSecret: "secret",
	}

	for _, b := range config.Bindings() {
		if b.Provider == config.ProviderGateway {
			if _, ok := factories[b]; ok {
				t.Error("gateway must not be in the binding table")
			}
			continue
		}
		t.Run(b.String(), func(t *testing.T) {
			t.Parallel()
			factory, ok := factories[b]
			if !ok {
				t.Fatalf("no factory for %s", b)
			}
			p := *cfg
			p.Provider, p.Driver = b.Provider, b.Driver
			transport, err := factory(context.Background(), &p, nil)
			if err != nil {
				t.Fatalf("factory error: %v", err)
			}
			if transport.Name() != b.Provider {
				t.Errorf("Name() = %q, want %q", transport.Name(), b.Provider)
			}
		})
	}
}

func startSink(t *testing.T, cfg smtpsink.Config) *smtpsink.Server {
	t.Helper()
	cfg.Addr = "127.0.0.1:0"
	srv, err := smtpsink.Listen(cfg)
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return srv
}

func TestSend_SMTPEndToEnd(t *testing.T) {
	t.Parallel()

	srv := startSink(t, smtpsink.Config{Username: "user", Password: "secret"})
	host, portStr, _ := net.SplitHostPort(srv.Addr())
	port, _ := strconv.Atoi(portStr)

	m, err := New()
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Provider{
		Provider:   config.ProviderSMTP,
		Host:       host,
		Port:       port,
		Username:   "user",
		Password:   "secret",
		Encryption: config.EncryptionNone,
	}

	r := m.Send(context.Background(), testMessage().AddBcc("audit@example.com", ""), cfg)
	if !r.OK() {
		t.Fatalf("expected OK, got %q", r.Message())
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("sink received %d messages, want 1", len(msgs))
	}
	got := msgs[0]
	if !reflect.DeepEqual(got.To, []string{"to@example.com", "audit@example.com"}) {
		t.Errorf("RCPT TO = %v", got.To)
	}
	if got.Envelope == nil || got.Envelope.Subject != "Quarterly report" {
		t.Fatalf("parsed envelope = %+v, err = %v", got.Envelope, got.ParseErr)
	}
	if id, _ := r.Get("message_id"); id != got.Envelope.MessageID {
		t.Errorf("message_id = %v, sink saw %q", id, got.Envelope.MessageID)
	}
}

// gatewayServer answers every request with status and body and keeps the
// decoded document.
func gatewayServer(t *testing.T, status int, body string) (*httptest.Server, *gatewayCapture) {
	t.Helper()
	c := &gatewayCapture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.callCount++
		c.path = r.URL.Path
		c.user, c.pass, _ = r.BasicAuth()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &c.doc)
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

type gatewayCapture struct {
	mu        sync.Mutex
	callCount int
	path      string
	user      string
	pass      string
	doc       gateway.Document
}

func splitServerURL(t *testing.T, raw string) (string, int) {
	t.Helper()
	i := strings.LastIndex(raw, ":")
	port, err := strconv.Atoi(raw[i+1:])
	if err != nil {
		t.Fatalf("bad server url %q", raw)
	}
	return raw[:i], port
}

func gatewayProvider(t *testing.T, srv *httptest.Server) *config.Provider {
	t.Helper()
	host, port := splitServerURL(t, srv.URL)
	return &config.Provider{
		Provider:  config.ProviderGateway,
		AccessKey: "ak",
		SecretKey: "sk",
		Host:      host,
		Port:      port,
	}
}

func TestSend_GatewayFoldsRecipients(t *testing.T) {
	t.Parallel()

	srv, c := gatewayServer(t, http.StatusOK, `{"id":"gw-1","status":"queued"}`)
	m, err := New()
	if err != nil {
		t.Fatal(err)
	}

	msg := email.NewMessage().
		SetFrom("sender@example.com", "").
		AddCc("a@b.com", "").
		AddBcc("hidden@b.com", "").
		SetSubject("Folded").
		SetHTML("<p>hi</p>", "")

	r := m.Send(context.Background(), msg, gatewayProvider(t, srv))
	if !r.OK() {
		t.Fatalf("expected OK, got %q %q", r.Code(), r.Message())
	}
	if id, _ := r.Get("id"); id != "gw-1" {
		t.Errorf("extra id = %v", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != gateway.DefaultEndpoint {
		t.Errorf("path = %q", c.path)
	}
	if c.user != "ak" || c.pass != "sk" {
		t.Errorf("basic auth = %q:%q", c.user, c.pass)
	}
	if len(c.doc.To) != 1 || c.doc.To[0].Email != "a@b.com" {
		t.Errorf("to = %+v, want a@b.com promoted", c.doc.To)
	}
	if len(c.doc.Cc) != 0 {
		t.Errorf("cc = %+v, want empty", c.doc.Cc)
	}
	if len(c.doc.Bcc) != 1 || c.doc.Bcc[0].Email != "hidden@b.com" {
		t.Errorf("bcc = %+v", c.doc.Bcc)
	}
	if c.doc.From == nil || c.doc.From.Name != "sender@example.com" {
		t.Errorf("from = %+v", c.doc.From)
	}
}

func TestSend_GatewayOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		status   int
		body     string
		wantOK   bool
		wantCode string
		wantMsg  string
	}{
		{"accepted", http.StatusOK, `{"status":"sent"}`, true, result.CodeOK, "Mail sent"},
		{"user message", http.StatusOK, `{"user_message":"Sender not verified"}`, false, result.CodeGatewayRejected, "Sender not verified"},
		{"user message on 400", http.StatusBadRequest, `{"user_message":"Quota exceeded"}`, false, result.CodeGatewayRejected, "Quota exceeded"},
		{"not json", http.StatusOK, `<html>oops</html>`, false, result.CodeTransportFailure, ""},
		{"server error", http.StatusInternalServerError, `{"detail":"down"}`, false, result.CodeTransportFailure, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv, c := gatewayServer(t, tt.status, tt.body)
			m, err := New()
			if err != nil {
				t.Fatal(err)
			}

			r := m.Send(context.Background(), testMessage(), gatewayProvider(t, srv))
			if r.OK() != tt.wantOK {
				t.Fatalf("OK() = %v, want %v (%q)", r.OK(), tt.wantOK, r.Message())
			}
			if r.Code() != tt.wantCode {
				t.Errorf("code = %q, want %q", r.Code(), tt.wantCode)
			}
			if tt.wantMsg != "" && r.Message() != tt.wantMsg {
				t.Errorf("message = %q, want %q", r.Message(), tt.wantMsg)
			}
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.callCount != 1 {
				t.Errorf("callCount = %d, want 1", c.callCount)
			}
		})
	}
}

func TestSend_GatewayUsesConfiguredDefaults(t *testing.T) {
	t.Parallel()

	srv, c := gatewayServer(t, http.StatusOK, `{}`)
	host, port := splitServerURL(t, srv.URL)

	m, err := New(WithConfig(&config.Config{
		Send:    config.SendConfig{Timeout: 5 * time.Second},
		Gateway: config.GatewayConfig{Host: host, Port: port, Endpoint: "/custom/mail/"},
	}))
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Provider{Provider: config.ProviderGateway, AccessKey: "ak", SecretKey: "sk"}
	if r := m.Send(context.Background(), testMessage(), cfg); !r.OK() {
		t.Fatalf("expected OK, got %q", r.Message())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.path != "/custom/mail/" {
		t.Errorf("path = %q, want /custom/mail/", c.path)
	}
}

func TestGatewayOptions(t *testing.T) {
	t.Parallel()

	m := &Mailer{
		gateway: config.GatewayConfig{Host: "https://gw.internal", Port: 8443, Endpoint: "/v2/"},
		timeout: 10 * time.Second,
	}

	opts := m.gatewayOptions(&config.Provider{
		Port:  9000,
		Proxy: &config.Proxy{Host: "proxy.local", Port: 3128},
	})

	want := gateway.Options{
		Host:      "https://gw.internal",
		Port:      9000,
		Endpoint:  "/v2/",
		ProxyHost: "proxy.local",
		ProxyPort: 3128,
		Timeout:   10 * time.Second,
	}
	if opts != want {
		t.Errorf("options = %+v, want %+v", opts, want)
	}
}

func TestUnresolvedError(t *testing.T) {
	t.Parallel()

	err := &UnresolvedError{Binding: config.Binding{Provider: "mailgun", Driver: "ftp"}}
	if err.Error() != "Invalid provider: mailgun" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSend_GatewayProxyWithSharedClient(t *testing.T) {
	t.Parallel()

	proxy, c := gatewayServer(t, http.StatusOK, `{"id":"gw-proxied"}`)
	proxyHost, proxyPort := splitServerURL(t, proxy.URL)

	m, err := New(WithHTTPClient(&http.Client{Timeout: 10 * time.Second}))
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Provider{
		Provider:  config.ProviderGateway,
		AccessKey: "ak",
		SecretKey: "sk",
		Host:      "http://gateway.invalid",
		Port:      8080,
		Proxy:     &config.Proxy{Host: proxyHost, Port: proxyPort},
	}
	r := m.Send(context.Background(), testMessage(), cfg)
	if !r.OK() {
		t.Fatalf("expected OK through the proxy, got %q %q", r.Code(), r.Message())
	}
	if id, _ := r.Get("id"); id != "gw-proxied" {
		t.Errorf("extra id = %v", id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callCount != 1 || c.path != gateway.DefaultEndpoint {
		t.Errorf("proxy saw %d calls, path %q", c.callCount, c.path)
	}
}

func TestSend_GatewayTimeoutOverridesProcessTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		io.WriteString(w, `{"status":"sent"}`)
	}))
	t.Cleanup(srv.Close)

	m, err := New(WithConfig(&config.Config{Send: config.SendConfig{Timeout: 50 * time.Millisecond}}))
	if err != nil {
		t.Fatal(err)
	}

	slow := gatewayProvider(t, srv)
	slow.Timeout = 5 * time.Second
	if r := m.Send(context.Background(), testMessage(), slow); !r.OK() {
		t.Fatalf("document timeout should apply, got %q %q", r.Code(), r.Message())
	}

	if r := m.Send(context.Background(), testMessage(), gatewayProvider(t, srv)); r.OK() {
		t.Error("without a document timeout the process timeout should apply")
	}
}
