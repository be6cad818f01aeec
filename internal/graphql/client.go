package graphql

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultRetryWait    = 100 * time.Millisecond
	defaultRetryMaxWait = 2 * time.Second
)

// Config configures the GraphQL client
type Config struct {
	Endpoint     string
	Token        string
	Timeout      time.Duration
	RetryCount   int
	RetryWait    time.Duration
	RetryMaxWait time.Duration
	Debug        bool
}

// Request is a single GraphQL operation
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Response wraps the raw envelope of a successful operation
type Response struct {
	raw []byte
}

// Get reads a gjson path below "data"
func (r *Response) Get(path string) gjson.Result {
	return gjson.GetBytes(r.raw, "data."+path)
}

// Raw returns the whole envelope
func (r *Response) Raw() []byte {
	return r.raw
}

// TransportError is a network failure or a non-2xx answer
type TransportError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: request failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s: server answered %d %s", e.Operation, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// QueryError carries the errors array the server reported
type QueryError struct {
	Operation string
	Messages  []string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Operation, strings.Join(e.Messages, "; "))
}

// Client executes GraphQL operations over HTTP
type Client struct {
	http     *resty.Client
	endpoint string
	logger   *zap.Logger
}

// NewClient creates a client for the configured endpoint
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	parsed, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid graphql endpoint: %w", err)
	}
	if !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("graphql endpoint must be absolute, got: %q", cfg.Endpoint)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("graphql endpoint scheme must be http or https, got: %s", parsed.Scheme)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryWait := cfg.RetryWait
	if retryWait <= 0 {
		retryWait = defaultRetryWait
	}
	retryMaxWait := cfg.RetryMaxWait
	if retryMaxWait <= 0 {
		retryMaxWait = defaultRetryMaxWait
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetRetryCount(max(cfg.RetryCount, 0)).
		SetRetryWaitTime(retryWait).
		SetRetryMaxWaitTime(retryMaxWait).
		AddRetryCondition(retryCondition).
		SetDebug(cfg.Debug)
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:     client,
		endpoint: cfg.Endpoint,
		logger:   logger.Named("graphql"),
	}, nil
}

// retryCondition retries network errors and gateway style failures only
func retryCondition(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	switch r.StatusCode() {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Do runs one operation. Transport problems return *TransportError, an
// errors array in the envelope returns *QueryError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	op := req.OperationName
	if op == "" {
		op = "graphql"
	}
	start := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.endpoint)
	if err != nil {
		c.logger.Warn("graphql request failed",
			zap.String("operation", op),
			zap.Error(err),
		)
		return nil, &TransportError{Operation: op, Err: err}
	}
	if resp.IsError() {
		c.logger.Warn("graphql server error",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode()),
		)
		// GraphQL servers often answer 400 with a proper errors array
		if msgs := errorMessages(resp.Body()); len(msgs) > 0 {
			return nil, &QueryError{Operation: op, Messages: msgs}
		}
		return nil, &TransportError{Operation: op, StatusCode: resp.StatusCode()}
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, &TransportError{Operation: op, StatusCode: resp.StatusCode(), Err: fmt.Errorf("response is not valid JSON")}
	}
	if msgs := errorMessages(body); len(msgs) > 0 {
		return nil, &QueryError{Operation: op, Messages: msgs}
	}

	c.logger.Debug("graphql request completed",
		zap.String("operation", op),
		zap.Duration("duration", time.Since(start)),
	)
	return &Response{raw: body}, nil
}

func errorMessages(body []byte) []string {
	errs := gjson.GetBytes(body, "errors")
	if !errs.IsArray() {
		return nil
	}
	var msgs []string
	for _, e := range errs.Array() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		msgs = append(msgs, msg)
	}
	return msgs
}
