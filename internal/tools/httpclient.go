package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultDownloadLimit caps attachment downloads.
const defaultDownloadLimit = 20 << 20

// HTTPClient wraps http.Client with a per-host request rate limit shared by
// all tools talking to the same provider.
type HTTPClient struct {
	client *http.Client
	rps    rate.Limit
	burst  int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPClient creates a client. rps <= 0 disables throttling.
func NewHTTPClient(timeout time.Duration, rps float64) *HTTPClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	return &HTTPClient{
		client:   &http.Client{Timeout: timeout},
		rps:      limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (c *HTTPClient) limiter(host string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[host]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[host] = l
	}
	return l
}

// CloseIdle drops pooled keep-alive connections.
func (c *HTTPClient) CloseIdle() { c.client.CloseIdleConnections() }

func (c *HTTPClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if err := c.limiter(req.URL.Host).Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExternalService, req.URL.Host, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrExternalService, req.URL.Host, resp.StatusCode, body)
	}
	return resp, nil
}

// GetJSON issues GET rawURL?params and decodes the JSON body into out.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrExternalService, u.Host, err)
	}
	return nil
}

// Download fetches rawURL, reading at most limit bytes (0 uses a 20 MiB cap).
func (c *HTTPClient) Download(ctx context.Context, rawURL string, limit int64) ([]byte, string, error) {
	if limit <= 0 {
		limit = defaultDownloadLimit
	}
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; mako/1.0)")
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %v", ErrExternalService, req.URL.Host, err)
	}
	if int64(len(data)) > limit {
		return nil, "", fmt.Errorf("%w: payload exceeds %d bytes", ErrInvalidInput, limit)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// serviceBase turns a configured host ("api.example.com") or URL into a base
// URL without a trailing slash.
func serviceBase(hostOrURL, fallback string) string {
	if hostOrURL == "" {
		return fallback
	}
	u, err := url.Parse(hostOrURL)
	if err != nil || u.Scheme == "" {
		return "https://" + trimSlash(hostOrURL)
	}
	return trimSlash(hostOrURL)
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
