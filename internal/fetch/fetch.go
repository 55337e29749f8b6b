// Package fetch downloads pages for the crawler.
package fetch

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/PentesterFlow/PoliteCrawler/internal/errors"
)

// DefaultUserAgent identifies the crawler to servers.
const DefaultUserAgent = "PoliteCrawler/1.0 (+https://github.com/PentesterFlow/PoliteCrawler)"

// Response is the result of one download. It is returned for every status
// code; only transport failures produce an error instead.
type Response struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
	// Truncated is set when the body exceeded MaxBodyBytes.
	Truncated bool
	Duration  time.Duration
}

// ContentType returns the Content-Type header of the response.
func (r *Response) ContentType() string {
	if r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// Config holds configuration for the HTTP client.
type Config struct {
	Timeout             time.Duration
	UserAgent           string
	MaxBodyBytes        int64
	MaxRedirects        int
	MaxIdleConnsPerHost int
	SkipTLSVerify       bool
}

// DefaultConfig returns conservative defaults for a polite crawl.
func DefaultConfig() Config {
	return Config{
		Timeout:             10 * time.Second,
		UserAgent:           DefaultUserAgent,
		MaxBodyBytes:        5 * 1024 * 1024,
		MaxRedirects:        10,
		MaxIdleConnsPerHost: 4,
	}
}

// Client is the HTTP downloader used by workers. It is safe for concurrent use.
type Client struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
}

// New creates a new Client.
func New(config Config) *Client {
	defaults := DefaultConfig()
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.MaxRedirects < 0 {
		config.MaxRedirects = 0
	}
	if config.MaxIdleConnsPerHost <= 0 {
		config.MaxIdleConnsPerHost = defaults.MaxIdleConnsPerHost
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.SkipTLSVerify,
		},
	}

	maxRedirects := config.MaxRedirects
	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent:    config.UserAgent,
		maxBodyBytes: config.MaxBodyBytes,
	}
}

// Fetch performs a GET request. A non-200 response is returned as-is with a
// nil error; the body is only read for 200 responses.
func (c *Client) Fetch(ctx context.Context, targetURL string) (*Response, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, errors.NewCrawlError(errors.Parse, targetURL, "request_creation", "failed to create request", err)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Categorize(err, targetURL)
	}
	defer resp.Body.Close()

	result := &Response{
		URL:        targetURL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		result.Duration = time.Since(start)
		return result, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
	if err != nil {
		return nil, errors.Categorize(fmt.Errorf("body read: %w", err), targetURL)
	}
	if int64(len(body)) > c.maxBodyBytes {
		body = body[:c.maxBodyBytes]
		result.Truncated = true
	}
	result.Body = body
	result.Duration = time.Since(start)
	return result, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
