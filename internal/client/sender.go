package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/austindbirch/fieldsync/internal/action"
	"github.com/austindbirch/fieldsync/internal/tracing"
)

// maxResponseBody bounds how much of an upstream response is buffered.
const maxResponseBody = 4 << 20

// Response is an upstream reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// StatusError is returned for non-2xx upstream replies.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %d %s", e.Status, http.StatusText(e.Status))
}

// Sender issues the request an action describes.
type Sender interface {
	Send(ctx context.Context, a action.Action) (*Response, error)
}

// HTTPSender sends actions to the REST API at BaseURL.
type HTTPSender struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPSender(baseURL string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// resolve joins endpoint onto the base URL unless it is already absolute.
func (s *HTTPSender) resolve(endpoint string) (string, error) {
	if u, err := url.Parse(endpoint); err == nil && u.IsAbs() {
		return endpoint, nil
	}
	if s.BaseURL == "" {
		return "", fmt.Errorf("relative endpoint %q without a base url", endpoint)
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return s.BaseURL + endpoint, nil
}

// Send returns the response together with a *StatusError when the status is
// not 2xx, or a nil response and the transport error when nothing came back.
func (s *HTTPSender) Send(ctx context.Context, a action.Action) (*Response, error) {
	target, err := s.resolve(a.Endpoint)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if a.Options.Body != "" {
		body = strings.NewReader(a.Options.Body)
	}
	req, err := http.NewRequestWithContext(ctx, a.Method(), target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range a.Options.Headers {
		req.Header.Set(k, v)
	}
	if a.Options.Body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.ID != "" && req.Header.Get("Idempotency-Key") == "" {
		req.Header.Set("Idempotency-Key", a.ID)
	}
	tracing.InjectHTTP(ctx, req.Header)

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: b}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return out, &StatusError{Status: resp.StatusCode}
	}
	return out, nil
}
