package gateway

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
)

// The SDK clients parse provider error bodies into their own types. To keep
// the upstream text intact, their HTTP client records non-2xx bodies into a
// holder carried on the request context.

type bodyCaptureKey struct{}

type capturedBody struct {
	mu   sync.Mutex
	body string
}

func (c *capturedBody) set(body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = body
}

func (c *capturedBody) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.body
}

func withBodyCapture(ctx context.Context) (context.Context, *capturedBody) {
	capture := &capturedBody{}
	return context.WithValue(ctx, bodyCaptureKey{}, capture), capture
}

type captureTransport struct {
	base http.RoundTripper
}

func (t captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode/100 == 2 {
		return resp, err
	}
	capture, ok := req.Context().Value(bodyCaptureKey{}).(*capturedBody)
	if !ok {
		return resp, nil
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	capture.set(string(data))
	return resp, nil
}

// capturingClient returns a copy of c whose transport records error bodies.
func capturingClient(c *http.Client) *http.Client {
	base := c.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cp := *c
	cp.Transport = captureTransport{base: base}
	return &cp
}

// sdkStatusError builds a StatusError from the captured upstream body,
// falling back to the SDK's own rendition when nothing was recorded.
func sdkStatusError(capture *capturedBody, status int, fallback string) *StatusError {
	body := capture.String()
	if body == "" {
		body = fallback
	}
	return &StatusError{Status: status, Body: body}
}
