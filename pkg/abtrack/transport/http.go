// Package transport delivers events to a remote collector.
//
// HTTP posts {"event": <event>} and counts the attempt as delivered only when
// the collector answers 2xx and echoes the event back with the same
// eventType. Func adapts a plain function for tests and custom transports.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	aberrors "github.com/randalmurphal/abtrack/pkg/abtrack/errors"
	"github.com/randalmurphal/abtrack/pkg/abtrack/event"
)

const (
	// DefaultURL is an echo service that reflects the posted body under "json".
	DefaultURL = "https://httpbin.org/post"

	// DefaultEchoPath locates the echoed event in the response body.
	DefaultEchoPath = "json.event"

	defaultTimeout          = 10 * time.Second
	defaultMaxResponseBytes = int64(1 << 20) // 1MB
)

// Config configures the HTTP transport.
type Config struct {
	// URL is the collector endpoint. Default: DefaultURL.
	URL string

	// EchoPath is the gjson path of the echoed event object.
	// Default: DefaultEchoPath.
	EchoPath string

	// Headers are added to every request.
	Headers map[string]string

	// Timeout bounds one request. Default: 10s.
	Timeout time.Duration

	MaxResponseBytes int64
	HTTPClient       *http.Client
}

// HTTP delivers events with one POST per event.
type HTTP struct {
	endpoint string
	echoPath string
	headers  map[string]string
	client   *http.Client
	maxBytes int64
}

// Compile-time interface check.
var _ event.Transport = (*HTTP)(nil)

// NewHTTP validates cfg and creates the transport.
func NewHTTP(cfg Config) (*HTTP, error) {
	endpoint := strings.TrimSpace(cfg.URL)
	if endpoint == "" {
		endpoint = DefaultURL
	}
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("transport: invalid url %q", endpoint)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("transport: url scheme must be http or https")
	}

	echoPath := strings.TrimSpace(cfg.EchoPath)
	if echoPath == "" {
		echoPath = DefaultEchoPath
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	return &HTTP{
		endpoint: endpoint,
		echoPath: echoPath,
		headers:  headers,
		client:   client,
		maxBytes: maxBytes,
	}, nil
}

// Endpoint returns the collector URL.
func (h *HTTP) Endpoint() string {
	return h.endpoint
}

type envelope struct {
	Event event.Event `json:"event"`
}

// Deliver posts evt and validates the echo.
// Failures are KindDelivery errors wrapping HTTPError, EchoError,
// TimeoutError, or the transport error.
func (h *HTTP) Deliver(ctx context.Context, evt event.Event) error {
	body, err := json.Marshal(envelope{Event: evt})
	if err != nil {
		return aberrors.Delivery(fmt.Errorf("encode event: %w", err), "deliver")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return aberrors.Delivery(fmt.Errorf("create request: %w", err), "deliver")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return aberrors.Delivery(&aberrors.TimeoutError{
				Operation: "POST " + h.endpoint,
				Duration:  h.client.Timeout.String(),
			}, "deliver")
		}
		return aberrors.Delivery(fmt.Errorf("request failed: %w", err), "deliver")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, h.maxBytes))
		return aberrors.Delivery(&aberrors.HTTPError{StatusCode: resp.StatusCode, Endpoint: h.endpoint}, "deliver")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, h.maxBytes+1))
	if err != nil {
		return aberrors.Delivery(fmt.Errorf("read response: %w", err), "deliver")
	}
	if int64(len(data)) > h.maxBytes {
		return aberrors.Delivery(&aberrors.EchoError{Reason: aberrors.EchoMalformed}, "deliver")
	}

	if err := checkEcho(data, h.echoPath, string(evt.EventType)); err != nil {
		return aberrors.Delivery(err, "deliver")
	}
	return nil
}

// checkEcho requires body to contain <path>.eventType equal to want.
func checkEcho(body []byte, path, want string) error {
	if !gjson.ValidBytes(body) {
		return &aberrors.EchoError{Reason: aberrors.EchoMalformed, Want: want}
	}
	echoed := gjson.GetBytes(body, path)
	if !echoed.Exists() || !echoed.IsObject() {
		return &aberrors.EchoError{Reason: aberrors.EchoMissing, Want: want}
	}
	got := echoed.Get("eventType")
	if !got.Exists() {
		return &aberrors.EchoError{Reason: aberrors.EchoMissing, Want: want}
	}
	if got.Type != gjson.String || got.Str != want {
		return &aberrors.EchoError{Reason: aberrors.EchoMismatch, Want: want, Got: got.String()}
	}
	return nil
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
