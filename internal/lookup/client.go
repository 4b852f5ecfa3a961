// Package lookup calls the external report lookup service.
package lookup

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
	"time"

	"reward-bot/internal/model"
)

var (
	// ErrTimeout is returned when the lookup exceeds its time bound.
	ErrTimeout = errors.New("lookup timed out")
	// ErrTransport covers connection failures, bad statuses and undecodable bodies.
	ErrTransport = errors.New("lookup transport error")
	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("lookup not found")
)

// NotFoundError is the service's own failure answer ({"success": false}).
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message == "" {
		return "Student not found."
	}
	return e.Message
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// maxBodySize caps a lookup response; a report is a handful of short fields.
const maxBodySize = 1 << 20

// Response is the wire shape of the lookup service.
type Response struct {
	Success bool         `json:"success"`
	Data    model.Report `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// Client performs bounded GET lookups against one configured URL.
type Client struct {
	baseURL    string
	param      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a lookup client. timeout bounds the whole call.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		param:      "rollNo",
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// Fetch looks up one roll number.
func (c *Client) Fetch(ctx context.Context, roll string) (model.Report, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: lookup URL is not configured", ErrTransport)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse lookup URL: %v", ErrTransport, err)
	}
	q := u.Query()
	q.Set(c.param, roll)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrTransport, maxBodySize)
	}

	var out Response
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: lookup returned status %d", ErrTransport, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
	}

	if !out.Success {
		return nil, &NotFoundError{Message: out.Error}
	}
	if out.Data == nil {
		out.Data = model.Report{}
	}
	return out.Data, nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}
