package signalwire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/acme/ivr-balance-checker/internal/telephony"
	apperrors "github.com/acme/ivr-balance-checker/pkg/errors"
)

// Client places calls through the SignalWire LaML (TwiML-compatible) REST API.
type Client struct {
	projectID  string
	apiToken   string
	baseURL    string
	httpClient *http.Client
	retry      *telephony.RetryPolicy
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL points the client somewhere other than https://{space}/api/laml/2010-04-01.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p *telephony.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// New creates a client for the given space, e.g. "example.signalwire.com".
func New(projectID, apiToken, space string, opts ...Option) *Client {
	space = strings.TrimPrefix(strings.TrimPrefix(space, "https://"), "http://")
	c := &Client{
		projectID:  projectID,
		apiToken:   apiToken,
		baseURL:    fmt.Sprintf("https://%s/api/laml/2010-04-01", strings.TrimRight(space, "/")),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type callResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// PlaceCall creates the outbound call and returns its SID.
func (c *Client) PlaceCall(ctx context.Context, req telephony.CallRequest) (telephony.CallHandle, error) {
	ctx, span := otel.Tracer("balance.signalwire").Start(ctx, "signalwire.create_call", trace.WithAttributes(
		attribute.String("call.to", req.To),
	))
	defer span.End()

	form := url.Values{}
	form.Set("From", req.From)
	form.Set("To", req.To)
	form.Set("Url", req.URL)
	form.Set("Method", http.MethodPost)
	if req.StatusCallback != "" {
		form.Set("StatusCallback", req.StatusCallback)
		form.Set("StatusCallbackEvent", "completed")
		form.Set("StatusCallbackMethod", http.MethodPost)
	}
	timeout := int(req.Timeout / time.Second)
	if timeout <= 0 {
		timeout = 30
	}
	form.Set("Timeout", strconv.Itoa(timeout))

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.projectID)

	var resp callResponse
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		return c.post(ctx, endpoint, form, &resp)
	})
	if err != nil {
		span.RecordError(err)
		return telephony.CallHandle{}, fmt.Errorf("signalwire: create call: %w: %w", apperrors.ErrInitiation, err)
	}
	if resp.SID == "" {
		return telephony.CallHandle{}, fmt.Errorf("signalwire: create call: %w: empty sid", apperrors.ErrInitiation)
	}

	span.SetAttributes(attribute.String("call.sid", resp.SID))
	return telephony.CallHandle{ID: resp.SID, Status: resp.Status}, nil
}

// Hangup ends a live call by moving it to completed.
func (c *Client) Hangup(ctx context.Context, callID string) error {
	form := url.Values{}
	form.Set("Status", "completed")

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", c.baseURL, c.projectID, url.PathEscape(callID))
	if err := c.post(ctx, endpoint, form, nil); err != nil {
		return fmt.Errorf("signalwire: hangup %s: %w", callID, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, endpoint string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(c.projectID, c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &telephony.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
