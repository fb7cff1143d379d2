// Package client is a Go client for the coordinator's HTTP API. Agents use
// the worker calls (register, heartbeat, claim, start, input download,
// result upload, report); tooling uses the operator calls.
//
// Usage:
//
//	c := client.New("http://coordinator:8080", client.WithTimeout(10*time.Second))
//	defer c.Close()
//
//	j, err := c.Submit(ctx, client.Upload{Name: "data.csv", Content: data, Strategy: "capability-match:linux/arm64"})
//
// Errors returned for non-2xx responses are *StatusError values that match
// the cluster sentinels with errors.Is.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// DefaultTimeout bounds a request when neither WithTimeout nor the context
// sets a shorter deadline.
const DefaultTimeout = 30 * time.Second

// Client talks to one coordinator. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *fiber.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a client for the coordinator at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    fiber.AcquireClient(),
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the coordinator address.
func (c *Client) BaseURL() string { return c.baseURL }

// Close releases the underlying HTTP client. The Client must not be used
// afterwards.
func (c *Client) Close() {
	if c.http != nil {
		fiber.ReleaseClient(c.http)
		c.http = nil
	}
}

// ──────────────────────────────────────────────────
// Request plumbing
// ──────────────────────────────────────────────────

// request builds an agent for method and path. query may be nil.
func (c *Client) request(ctx context.Context, method, path string, query url.Values) (*fiber.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	timeout := c.timeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var a *fiber.Agent
	switch method {
	case fiber.MethodGet:
		a = c.http.Get(u)
	case fiber.MethodPost:
		a = c.http.Post(u)
	case fiber.MethodDelete:
		a = c.http.Delete(u)
	default:
		return nil, fmt.Errorf("client: unsupported method %s", method)
	}
	return a.Timeout(timeout), nil
}

// send executes a and decodes a 2xx JSON body into out (when non-nil). The
// agent is released by Bytes.
func (c *Client) send(a *fiber.Agent, out any) ([]byte, error) {
	req := a.Request()
	method, uri := string(req.Header.Method()), req.URI().String()

	code, body, errs := a.Bytes()
	if len(errs) > 0 {
		c.logger.Debug("coordinator request failed",
			slog.String("method", method),
			slog.String("url", uri),
			slog.Any("error", errors.Join(errs...)),
		)
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnreachable, method, uri, errors.Join(errs...))
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return nil, newStatusError(code, body)
	}
	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("client: decode %s %s: %w", method, uri, err)
		}
	}
	return body, nil
}

// do is request followed by send for calls with an optional JSON body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	a, err := c.request(ctx, method, path, query)
	if err != nil {
		return err
	}
	if in != nil {
		a.JSON(in)
	}
	_, err = c.send(a, out)
	return err
}

// download fetches path and returns the body together with the file name
// from Content-Disposition.
func (c *Client) download(ctx context.Context, path string, query url.Values) ([]byte, string, error) {
	a, err := c.request(ctx, fiber.MethodGet, path, query)
	if err != nil {
		return nil, "", err
	}
	resp := fiber.AcquireResponse()
	defer fiber.ReleaseResponse(resp)
	a.SetResponse(resp)

	body, err := c.send(a, nil)
	if err != nil {
		return nil, "", err
	}
	name := ""
	if _, params, perr := mime.ParseMediaType(string(resp.Header.Peek(fiber.HeaderContentDisposition))); perr == nil {
		name = params["filename"]
	}
	// body aliases resp and must outlive its release.
	return append([]byte(nil), body...), name, nil
}
