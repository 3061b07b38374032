package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/SAISURYACHARAN89/codesync/internal/domain/execution"
	"github.com/SAISURYACHARAN89/codesync/internal/domain/session"
	"github.com/SAISURYACHARAN89/codesync/internal/shared/apperr"
)

// Options configures a Client
type Options struct {
	BaseURL string
	Timeout time.Duration
	// Retries applies to connection failures and 502/429 responses only
	Retries int
}

// Client talks to the codesync HTTP API.
type Client struct {
	http *resty.Client
}

// New creates a client for the server at opts.BaseURL.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.Logger = nil
	retryClient.CheckRetry = retryPolicy
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http: resty.NewWithClient(retryClient.StandardClient()).
			SetBaseURL(strings.TrimRight(opts.BaseURL, "/")).
			SetTimeout(opts.Timeout).
			SetHeader("User-Agent", "codesync-cli/1.0").
			SetHeader("Accept", "application/json"),
	}
}

// retryPolicy retries transport failures and gateway hiccups. Execution is
// not idempotent, so a 503 from the sandbox is returned to the caller as is.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusTooManyRequests, nil
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
	// Result is set when the execution ran but its environment failed
	Result *execution.Result
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap exposes the server's error kind so errors.Is(err, apperr.ErrNotFound)
// works on client errors.
func (e *APIError) Unwrap() error {
	return apperr.New(apperr.ParseKind(e.Code), "client", e.Message)
}

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Result *execution.Result `json:"result"`
}

// ExecuteRequest is the body of POST /execute
type ExecuteRequest struct {
	Language  string `json:"language"`
	Source    string `json:"source"`
	Stdin     string `json:"stdin,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Health is the body of GET /health
type Health struct {
	Status      string            `json:"status"`
	Uptime      string            `json:"uptime"`
	Sessions    session.Stats     `json:"sessions"`
	Connections int               `json:"connections"`
	Attached    int               `json:"attached"`
	Sandbox     *execution.Health `json:"sandbox,omitempty"`
}

// Execute runs source on the server. The result of an execution that ran but
// failed to complete is available through APIError.Result.
func (c *Client) Execute(ctx context.Context, req ExecuteRequest) (*execution.Result, error) {
	var result execution.Result
	if err := c.do(ctx, http.MethodPost, "/execute", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Languages lists the server's language profiles
func (c *Client) Languages(ctx context.Context) ([]execution.Profile, error) {
	var body struct {
		Languages []execution.Profile `json:"languages"`
	}
	if err := c.do(ctx, http.MethodGet, "/languages", nil, &body); err != nil {
		return nil, err
	}
	return body.Languages, nil
}

// Session returns a snapshot of the session with the given code
func (c *Client) Session(ctx context.Context, code string) (*session.Snapshot, error) {
	var snap session.Snapshot
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(code), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Health returns the server's health report
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var failure errorBody
	req := c.http.R().
		SetContext(ctx).
		SetResult(out).
		SetError(&failure)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr := &APIError{
			Status:  resp.StatusCode(),
			Code:    failure.Code,
			Message: failure.Error,
			Result:  failure.Result,
		}
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(resp.String())
		}
		if apiErr.Code == "" {
			apiErr.Code = apperr.KindInternal.String()
		}
		return apiErr
	}
	return nil
}
