package infra

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 64 << 20

// ErrHTTP wraps a non-2xx response.
type ErrHTTP struct {
	URL        string
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %s from %s: %s", e.Status, e.URL, e.Body)
}

// Client is an HTTP client with default headers and optional cookie jar.
type Client struct {
	http    *http.Client
	headers map[string]string
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	Timeout time.Duration
	Headers map[string]string
	Cookies bool
}

// NewClient creates a client. Cookies enables a session cookie jar, which
// the eFD site requires to remember the accepted usage agreement.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	hc := &http.Client{Timeout: opts.Timeout}
	if opts.Cookies {
		jar, _ := cookiejar.New(nil) // never fails with nil options
		hc.Jar = jar
	}
	return &Client{http: hc, headers: opts.Headers}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
	URL         string
}

// Get performs a GET request and reads the body.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req, headers)
}

// PostForm performs a form-encoded POST and reads the body.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, headers)
}

// Cookie returns the value of a session cookie for rawURL, if any.
func (c *Client) Cookie(rawURL, name string) string {
	if c.http.Jar == nil {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) do(req *http.Request, headers map[string]string) (*Response, error) {
	req.Header.Set("Accept", "application/json, text/html, application/xml, */*")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP %s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ErrHTTP{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", req.URL, err)
	}
	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		URL:         resp.Request.URL.String(),
	}, nil
}
