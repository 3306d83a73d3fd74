// Package api is the typed client for the trading dashboard backend. Every
// authenticated operation runs through session.Caller, so an expired access
// token is refreshed and the call retried once without the caller noticing.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"

	"signaldesk/internal/session"
)

const maxResponseSize = 1 << 20 // 1MB limit for API responses

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnknownBroker      = errors.New("unknown broker")
)

// StatusError is a non-2xx answer other than 401. It never triggers a refresh.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

type Options struct {
	BaseURL    string
	Brokers    []string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL string
	brokers []string
	http    *retry.Client
	plain   *http.Client
	caller  *session.Caller
	logger  *zap.Logger
}

func NewClient(caller *session.Caller, opts Options) (*Client, error) {
	if caller == nil {
		return nil, errors.New("session caller is required")
	}
	if opts.BaseURL == "" {
		return nil, errors.New("api base url is required")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	httpClient, err := retry.NewClient(retry.WithHTTPClient(opts.HTTPClient))
	if err != nil {
		return nil, fmt.Errorf("create retry client: %w", err)
	}

	return &Client{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		brokers: slices.Clone(opts.Brokers),
		http:    httpClient,
		plain:   opts.HTTPClient,
		caller:  caller,
		logger:  opts.Logger,
	}, nil
}

// Brokers lists the broker names the client accepts.
func (c *Client) Brokers() []string {
	return slices.Clone(c.brokers)
}

func (c *Client) checkBroker(broker string) error {
	if !slices.Contains(c.brokers, broker) {
		return fmt.Errorf("%w: %q (known: %s)", ErrUnknownBroker, broker, strings.Join(c.brokers, ", "))
	}
	return nil
}

// do performs one request. A 401 wraps session.ErrUnauthorized; any other
// non-2xx becomes a *StatusError. A 2xx JSON body is decoded into out.
func (c *Client) do(ctx context.Context, method, path, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.send(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read %s %s: %w", method, path, err)
	}

	c.logger.Debug("api response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, session.ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// call runs an authenticated request through the session caller.
// send retries transient failures only for methods that are safe to repeat.
// A POST that timed out or got a 5xx may already have taken effect.
func (c *Client) send(ctx context.Context, req *http.Request) (*http.Response, error) {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return c.http.DoWithContext(ctx, req)
	default:
		return c.plain.Do(req)
	}
}

func call[T any](ctx context.Context, c *Client, method, path string, in any) (T, error) {
	return session.Call(ctx, c.caller, func(ctx context.Context, accessToken string) (T, error) {
		var out T
		err := c.do(ctx, method, path, accessToken, in, &out)
		return out, err
	})
}

type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func errorMessage(data []byte) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil {
		var detail string
		if len(body.Detail) > 0 && json.Unmarshal(body.Detail, &detail) == nil && detail != "" {
			return detail
		}
		if len(body.Detail) > 0 && string(body.Detail) != "null" {
			return string(body.Detail)
		}
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(data))
}
