package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
)

// Default endpoint parts. Together they form
// https://ecentry.io:443/api/maildocker/v1/mail/.
const (
	DefaultHost     = "https://ecentry.io"
	DefaultPort     = 443
	DefaultEndpoint = "/api/maildocker/v1/mail/"
	DefaultTimeout  = 30 * time.Second
)

// ErrMissingCredentials is returned by New when the key pair is incomplete.
var ErrMissingCredentials = errors.New("gateway access key and secret key are required")

// Options configures where and how the gateway is reached. Zero fields take
// their defaults.
type Options struct {
	Host     string
	Port     int
	Endpoint string
	// ProxyHost and ProxyPort route requests through an HTTP proxy when
	// both are set.
	ProxyHost string
	ProxyPort int
	Timeout   time.Duration
}

// DefaultOptions returns the public gateway endpoint with a 30s timeout.
func DefaultOptions() Options {
	return Options{
		Host:     DefaultHost,
		Port:     DefaultPort,
		Endpoint: DefaultEndpoint,
		Timeout:  DefaultTimeout,
	}
}

// RejectedError is a gateway answer carrying a user_message.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "gateway rejected message: " + e.Message
}

// Client posts documents to the gateway.
type Client struct {
	url        string
	accessKey  string
	secretKey  string
	httpClient *http.Client
}

// New creates a gateway Client. Options fields left zero are filled from
// DefaultOptions. A nil hc gets a client built from the options' timeout
// and proxy. A shared hc is copied, never modified: the copy routes through
// the proxy when one is set and keeps the stricter of the two timeouts.
func New(accessKey, secretKey string, opts Options, hc *http.Client) (*Client, error) {
	if accessKey == "" || secretKey == "" {
		return nil, ErrMissingCredentials
	}
	if err := mergo.Merge(&opts, DefaultOptions()); err != nil {
		return nil, fmt.Errorf("failed to apply gateway defaults: %w", err)
	}

	hc, err := clientFor(opts, hc)
	if err != nil {
		return nil, err
	}

	return &Client{
		url:        fmt.Sprintf("%s:%d%s", strings.TrimRight(opts.Host, "/"), opts.Port, opts.Endpoint),
		accessKey:  accessKey,
		secretKey:  secretKey,
		httpClient: hc,
	}, nil
}

// URL returns the full gateway address the client posts to.
func (c *Client) URL() string {
	return c.url
}

// Send posts doc once and returns the gateway's answer as a map. A JSON
// answer that is not an object is returned under the "response" key.
func (c *Client) Send(ctx context.Context, doc Document) (map[string]any, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gateway document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.accessKey, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("gateway returned HTTP %d with a non-JSON body", resp.StatusCode)
	}

	out, isObject := decoded.(map[string]any)
	if isObject {
		if msg, ok := out["user_message"]; ok {
			return nil, &RejectedError{Message: fmt.Sprint(msg)}
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if !isObject {
		out = map[string]any{"response": decoded}
	}
	return out, nil
}

// ErrProxyTransport is returned by New when a proxy is configured but the
// shared client's transport cannot be given one.
var ErrProxyTransport = errors.New("gateway proxy requires an *http.Transport")

func clientFor(opts Options, shared *http.Client) (*http.Client, error) {
	var c http.Client
	if shared != nil {
		c = *shared
	}
	if shared == nil || (opts.Timeout > 0 && (c.Timeout == 0 || opts.Timeout < c.Timeout)) {
		c.Timeout = opts.Timeout
	}

	if opts.ProxyHost == "" || opts.ProxyPort == 0 {
		if shared == nil {
			c.Transport = http.DefaultTransport.(*http.Transport).Clone()
		}
		return &c, nil
	}

	proxy, err := proxyURL(opts.ProxyHost, opts.ProxyPort)
	if err != nil {
		return nil, err
	}
	var transport *http.Transport
	switch rt := c.Transport.(type) {
	case nil:
		transport = http.DefaultTransport.(*http.Transport).Clone()
	case *http.Transport:
		transport = rt.Clone()
	default:
		return nil, fmt.Errorf("%w, got %T", ErrProxyTransport, rt)
	}
	transport.Proxy = http.ProxyURL(proxy)
	c.Transport = transport
	return &c, nil
}

// proxyURL accepts "proxy.local" or "http://proxy.local" forms.
func proxyURL(host string, port int) (*url.URL, error) {
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy host %q: %w", host, err)
	}
	u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	return u, nil
}
