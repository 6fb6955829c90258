// Package coderunner provides a Go client for the code-runner API.
//
// The service compiles and runs submitted source on a remote worker. A run is
// started with Submit, which hands back an opaque execution id, and observed
// with Check until the worker reports a terminal status.
//
// Usage:
//
//	client := coderunner.New("http://localhost:8080")
//
//	tmpl, err := client.Templates.Get(ctx, "Python")
//
//	id, err := client.Executions.Submit(ctx, coderunner.Submission{
//	    Code:     "print('hi')",
//	    Language: "Python",
//	    Problem:  "two",
//	})
//	resp, err := client.Executions.Check(ctx, id)
//
//	trial, err := client.Problems.Try(ctx, coderunner.ProblemSubmission{
//	    Code:     src,
//	    Language: "Python",
//	    Problem:  "double",
//	})
package coderunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// Client is the code-runner API client.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client

	// Service accessors
	Templates  *TemplatesService
	Executions *ExecutionsService
	Problems   *ProblemsService
	Helper     *HelperService
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken authenticates every request with a static bearer token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a code-runner client.
// baseURL should be the root URL of the API (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "coderunner-go",
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.token != "" {
		// Copy so a caller-supplied client is never mutated.
		hc := *c.httpClient
		hc.Transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token}),
			Base:   c.httpClient.Transport,
		}
		c.httpClient = &hc
	}
	c.Templates = &TemplatesService{c: c, cache: make(map[string]string)}
	c.Executions = &ExecutionsService{c: c}
	c.Problems = &ProblemsService{c: c}
	c.Helper = &HelperService{c: c}
	return c
}

// BaseURL returns the root URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// --- internal helpers ---

func (c *Client) newRequest(ctx context.Context, method, path string, query map[string]string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("coderunner: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("coderunner: build request: %w", err)
	}
	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// send performs the request and returns the response body of a 2xx reply.
// Any other status is turned into an *APIError.
func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coderunner: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coderunner: read response: %w", err)
	}
	return data, nil
}

func doText(ctx context.Context, c *Client, method, path string, query map[string]string, body any) (string, error) {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return "", err
	}
	data, err := c.send(req)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func doJSON[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	req, err := c.newRequest(ctx, method, path, nil, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	data, err := c.send(req)
	if err != nil {
		return nil, err
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &out, nil
}

func parseError(resp *http.Response) *APIError {
	e := &APIError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Error string `json:"error"`
	}
	switch {
	case json.Unmarshal(data, &body) == nil && body.Error != "":
		e.Message = body.Error
	case len(bytes.TrimSpace(data)) > 0 && !json.Valid(data):
		e.Message = strings.TrimSpace(string(data))
	default:
		e.Message = http.StatusText(resp.StatusCode)
	}
	return e
}
