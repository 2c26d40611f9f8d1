// Package remote is the client of the FinTrack data service, the
// authoritative store of users and records.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/records"
)

const (
	pathRecordsFetch = "FinTrack/RecordsFetch"
	pathRecordSave   = "FinTrack/RecordSave"
	pathSignIn       = "FinTrack/SignIn"
	pathSignUp       = "FinTrack/SignUp"

	maxBodyBytes = 10 << 20
)

// Operation names used for metrics and errors.
const (
	OpFetchRecords = "fetch_records"
	OpSaveRecord   = "save_record"
	OpSignIn       = "sign_in"
	OpSignUp       = "sign_up"
)

type Config struct {
	BaseURL string
	// Timeout bounds each call, including reading the body.
	Timeout    time.Duration
	HTTPClient *http.Client
	// MaxConsecutiveFailures trips the breaker; zero means 5.
	MaxConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open; zero means 30s.
	OpenTimeout time.Duration
	Metrics     metrics.Collector
	Logger      *log.Logger
}

type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
	metrics metrics.Collector
	logger  *log.Logger
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("remote: base URL is required")
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("remote: invalid base URL %q", cfg.BaseURL)
	}

	c := &Client{
		base:    base,
		http:    cfg.HTTPClient,
		timeout: cfg.Timeout,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.metrics == nil {
		c.metrics = metrics.NoOpCollector{}
	}
	if c.logger == nil {
		c.logger = log.Discard()
	}
	c.logger = c.logger.WithComponent(log.ComponentRemote)

	maxFailures := cfg.MaxConsecutiveFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "data-service",
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// the caller giving up says nothing about the service
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())

			var state metrics.CircuitState
			switch to {
			case gobreaker.StateClosed:
				state = metrics.CircuitClosed
			case gobreaker.StateHalfOpen:
				state = metrics.CircuitHalfOpen
			case gobreaker.StateOpen:
				state = metrics.CircuitOpen
			}
			c.metrics.RecordCircuitState(name, state)
		},
	})

	return c, nil
}

// BreakerState exposes the breaker for readiness checks.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

type response struct {
	status int
	body   []byte
}

func (r response) ok() bool { return r.status >= 200 && r.status < 300 }

// do runs one request through the breaker. Transport errors and 5xx
// responses are failures; every other response is handed back to the caller.
func (c *Client) do(ctx context.Context, op, path, contentType string, body []byte) (response, error) {
	start := time.Now()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		u := c.base.ResolveReference(&url.URL{Path: path})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode >= 500 {
			return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Message: messageOf(data)}
		}
		return response{status: resp.StatusCode, body: data}, nil
	})
	c.metrics.RecordRemoteCall(op, err, time.Since(start))

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return response{}, fmt.Errorf("%s: %w", op, ErrUnavailable)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return response{}, apiErr
		}
		return response{}, fmt.Errorf("%s: %w", op, err)
	}
	return out.(response), nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, v any) (response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return response{}, fmt.Errorf("%s: encode request: %w", op, err)
	}
	return c.do(ctx, op, path, "application/json", body)
}

// FetchRecords returns the raw records of a user.
func (c *Client) FetchRecords(ctx context.Context, userID string) ([]records.Raw, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("userId", userID); err != nil {
		return nil, fmt.Errorf("%s: encode form: %w", OpFetchRecords, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%s: encode form: %w", OpFetchRecords, err)
	}

	resp, err := c.do(ctx, OpFetchRecords, pathRecordsFetch, mw.FormDataContentType(), buf.Bytes())
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &APIError{Op: OpFetchRecords, StatusCode: resp.status, Message: messageOf(resp.body)}
	}

	var out recordsResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("%s: %w: %v", OpFetchRecords, ErrInvalidResponse, err)
	}
	if !out.Status {
		return nil, &APIError{Op: OpFetchRecords, StatusCode: resp.status, Message: out.Message}
	}
	if out.Records == nil {
		out.Records = []records.Raw{}
	}

	c.logger.DebugContext(ctx, "Records fetched", log.FieldUserID, userID, log.FieldCount, len(out.Records))
	return out.Records, nil
}

// SaveRecord stores a new record and returns the id assigned by the
// service, which may be empty when the service does not report one.
func (c *Client) SaveRecord(ctx context.Context, rec NewRecord) (string, error) {
	resp, err := c.postJSON(ctx, OpSaveRecord, pathRecordSave, rec)
	if err != nil {
		return "", err
	}
	if !resp.ok() {
		return "", &APIError{Op: OpSaveRecord, StatusCode: resp.status, Message: messageOf(resp.body)}
	}
	var out idResponse
	if len(bytes.TrimSpace(resp.body)) > 0 {
		if err := json.Unmarshal(resp.body, &out); err != nil {
			return "", fmt.Errorf("%s: %w: %v", OpSaveRecord, ErrInvalidResponse, err)
		}
	}
	if out.failed() {
		return "", &APIError{Op: OpSaveRecord, StatusCode: resp.status, Message: out.Message}
	}
	return out.ID.String(), nil
}

// SignIn verifies credentials and returns the account.
func (c *Client) SignIn(ctx context.Context, email, password string) (core.Account, error) {
	resp, err := c.postJSON(ctx, OpSignIn, pathSignIn, signInRequest{Email: email, Password: password})
	if err != nil {
		return core.Account{}, err
	}
	switch {
	case resp.status == http.StatusUnauthorized, resp.status == http.StatusForbidden, resp.status == http.StatusNotFound:
		return core.Account{}, ErrInvalidCredentials
	case !resp.ok():
		return core.Account{}, &APIError{Op: OpSignIn, StatusCode: resp.status, Message: messageOf(resp.body)}
	}

	var out idResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return core.Account{}, fmt.Errorf("%s: %w: %v", OpSignIn, ErrInvalidResponse, err)
	}
	if out.failed() || strings.TrimSpace(out.ID.String()) == "" {
		return core.Account{}, ErrInvalidCredentials
	}
	acc := core.Account{ID: out.ID.String(), FullName: out.FullName, Username: out.Username, Email: out.Email}
	if acc.Email == "" {
		acc.Email = email
	}
	return acc, nil
}

// SignUp creates an account. A 409 means the email is already registered.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (core.Account, error) {
	resp, err := c.postJSON(ctx, OpSignUp, pathSignUp, req)
	if err != nil {
		return core.Account{}, err
	}
	switch {
	case resp.status == http.StatusConflict:
		return core.Account{}, ErrEmailTaken
	case !resp.ok():
		return core.Account{}, &APIError{Op: OpSignUp, StatusCode: resp.status, Message: messageOf(resp.body)}
	}

	var out idResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return core.Account{}, fmt.Errorf("%s: %w: %v", OpSignUp, ErrInvalidResponse, err)
	}
	if strings.TrimSpace(out.ID.String()) == "" {
		return core.Account{}, &APIError{Op: OpSignUp, StatusCode: resp.status, Message: "account id missing from response"}
	}
	return core.Account{
		ID:       out.ID.String(),
		FullName: req.FullName,
		Username: req.Username,
		Email:    req.Email,
	}, nil
}

// messageOf extracts a "message" field, else a trimmed prefix of the body.
func messageOf(body []byte) string {
	var m struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &m) == nil {
		if m.Message != "" {
			return m.Message
		}
		if m.Error != "" {
			return m.Error
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
