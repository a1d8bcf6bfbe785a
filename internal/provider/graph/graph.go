package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shineum/maildispatch/internal/envelope"
	"github.com/shineum/maildispatch/internal/provider"
)

const (
	defaultGraphURL = "https://graph.microsoft.com"
	defaultLoginURL = "https://login.microsoftonline.com"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// GraphURL and LoginURL override the API roots, e.g. for tests.
	GraphURL string
	LoginURL string
}

// Provider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication. The envelope sender is the mailbox
// the message is sent as.
type Provider struct {
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
}

// New creates a new Provider with the given configuration. A nil client
// gets a 30s timeout.
func New(cfg Config, client *http.Client) *Provider {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	graphURL := strings.TrimRight(orDefault(cfg.GraphURL, defaultGraphURL), "/")
	loginURL := strings.TrimRight(orDefault(cfg.LoginURL, defaultLoginURL), "/")

	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", loginURL, url.PathEscape(cfg.TenantID))

	return &Provider{
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Send delivers the envelope via the Microsoft Graph API in a single
// request. Graph assigns no id on sendMail, so the receipt carries the
// envelope's Message-ID, which Graph keeps as internetMessageId.
func (g *Provider) Send(ctx context.Context, env *envelope.Envelope) (provider.Receipt, error) {
	if env.From.Address == "" {
		return provider.Receipt{}, &provider.SendError{Provider: g.Name(), Message: "a valid sender address is required"}
	}

	parts, err := env.LoadParts()
	if err != nil {
		return provider.Receipt{}, err
	}

	bodyJSON, err := json.Marshal(buildSendMailRequest(env, parts))
	if err != nil {
		return provider.Receipt{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1.0/users/%s/sendMail", g.graphURL, url.PathEscape(env.From.Address))
	if err := g.doSendRequest(ctx, endpoint, bodyJSON); err != nil {
		slog.Warn("Graph API error", "error", err)
		return provider.Receipt{}, err
	}

	return provider.Receipt{MessageID: env.MessageID}, nil
}

// Name returns the provider name.
func (g *Provider) Name() string {
	return "msgraph"
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *Provider) doSendRequest(ctx context.Context, endpoint string, bodyJSON []byte) error {
	token, err := g.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &provider.SendError{
			Provider: g.Name(),
			Message:  fmt.Sprintf("HTTP request failed: %v", err),
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	message := string(body)
	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		message = graphErrResp.Error.Message
	}

	return &provider.SendError{
		Provider:   g.Name(),
		StatusCode: resp.StatusCode,
		Message:    message,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
