package attachment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodySize caps a single downloaded attachment.
const maxBodySize = 25 << 20

// HTTPFetcher implements Fetcher over plain HTTP. A HEAD request answers
// existence and header checks; a GET fetches the body.
type HTTPFetcher struct {
	httpClient *http.Client
}

// NewHTTPFetcher creates an HTTPFetcher. A nil client gets a 30s timeout.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{httpClient: client}
}

// Exists reports whether a HEAD request for url answers with a 2xx status.
func (f *HTTPFetcher) Exists(ctx context.Context, url string) bool {
	resp, err := f.do(ctx, http.MethodHead, url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// Header returns the named response header of a HEAD request for url.
func (f *HTTPFetcher) Header(ctx context.Context, url, name string) (string, error) {
	resp, err := f.do(ctx, http.MethodHead, url)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	return resp.Header.Get(name), nil
}

// Body downloads url.
func (f *HTTPFetcher) Body(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	if len(data) > maxBodySize {
		return nil, fmt.Errorf("attachment %s exceeds %d bytes", url, maxBodySize)
	}
	return data, nil
}

func (f *HTTPFetcher) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return resp, nil
}
