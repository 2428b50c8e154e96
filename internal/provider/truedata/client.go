package truedata

import (
	"io"
	"net/http"
	"strings"
)

const (
	defaultAuthURL = "https://auth.truedata.in/token"
	defaultBaseURL = "https://analytics.truedata.in/api"
)

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=truedata_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the TrueData auth and analytics APIs.
type Client struct {
	// name is reported by Name and used in provider error messages.
	name string
	// authURL is the password-grant token endpoint.
	authURL string
	// baseURL is the base URL for the analytics API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
}

// ClientOption is a configuration option for the TrueData client.
type ClientOption func(*Client)

// WithName sets the provider display name.
func WithName(name string) ClientOption {
	return func(c *Client) {
		c.name = name
	}
}

// WithAuthURL sets the token endpoint.
func WithAuthURL(authURL string) ClientOption {
	return func(c *Client) {
		c.authURL = authURL
	}
}

// WithBaseURL sets the base URL for the analytics API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new TrueData client.
func NewClient(options ...ClientOption) (*Client, error) {
	var client = &Client{
		name:       "TrueData",
		authURL:    defaultAuthURL,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// Name returns the provider display name.
func (c *Client) Name() string { return c.name }

func (c *Client) newHeader(token string) http.Header {
	h := c.header.Clone()
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

// readSnippet returns at most 2KiB of body for error messages.
func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 2<<10))
	return strings.TrimSpace(string(b))
}
