// Package network performs bounded-time fetches against the origin.
package network

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/Jake-Mok-Nelson/offline-cache/internal/report"
)

// DefaultTimeout bounds a fetch when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Response is a fully read HTTP response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Fetcher performs a single network fetch. Any HTTP status is a successful
// fetch; only transport failures and timeouts return an error.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *http.Request) (*Response, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	return f(ctx, req)
}

// Config holds configuration options for the network client
type Config struct {
	Timeout time.Duration
	Verbose bool
}

// Client wraps an http.Client with a per-fetch timeout
type Client struct {
	client  *http.Client
	timeout time.Duration
	verbose bool
}

// NewClient creates a new network client with the default timeout
func NewClient() *Client {
	return NewClientWithConfig(&Config{Timeout: DefaultTimeout})
}

// NewClientWithConfig creates a new network client with configuration
func NewClientWithConfig(config *Config) *Client {
	return NewClientWithHTTP(&http.Client{}, config)
}

// NewClientWithHTTP creates a network client around an existing http.Client
func NewClientWithHTTP(hc *http.Client, config *Config) *Client {
	if config == nil {
		config = &Config{}
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	if config.Verbose {
		log.Printf("Network client initialized with %s fetch timeout", timeout)
	}

	// Redirects are returned to the caller as-is, the way a browser
	// fetch with redirect: manual would see them.
	client := *hc
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		client:  &client,
		timeout: timeout,
		verbose: config.Verbose,
	}
}

// Fetch sends req and reads the whole body. A failed or timed out fetch is
// reported as report.NetworkUnavailable.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	target := req.URL.String()
	if c.verbose {
		log.Printf("Network: %s %s", req.Method, target)
	}

	resp, err := c.client.Do(req.Clone(ctx))
	if err != nil {
		if c.verbose {
			log.Printf("Network: %s %s failed - %v", req.Method, target, err)
		}
		return nil, report.NetworkUnavailable(target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, report.NetworkUnavailable(target, fmt.Errorf("failed to read response body: %w", err))
	}

	if c.verbose {
		log.Printf("Network: %s %s -> %d (%d bytes)", req.Method, target, resp.StatusCode, len(body))
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
	}, nil
}

// Get fetches url with a plain GET request.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", url, err)
	}
	return c.Fetch(ctx, req)
}
