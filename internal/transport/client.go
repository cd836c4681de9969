// Package transport performs remote calls on the backend.
//
// Client speaks JSON-RPC 2.0 over HTTP the way the mail web client does:
// every call is a "call" request posted to /web/dataset/call_kw/<model>/<method>.
// Recorder is an in-memory stand-in for tests and offline runs.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/roach88/relgraph/internal/ir"
)

// Default client settings.
const (
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 5 // requests per second
	DefaultBurst     = 5
)

// Client invokes backend methods over JSON-RPC. It implements
// engine.Invoker and is safe for concurrent use.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
	nextID     atomic.Int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client (and its timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRateLimit throttles outgoing requests. A non-positive rps disables
// throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a client for the server at endpoint, e.g.
// "https://odoo.example.com".
func NewClient(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second/DefaultRateLimit), DefaultBurst),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  ir.IRObject `json:"params"`
	ID      int64       `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcRespError   `json:"error"`
	ID      any             `json:"id"`
}

type rpcRespError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// RPCError is an error object returned by the server.
type RPCError struct {
	Code    int
	Message string
	Data    ir.IRValue
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error (%d): %s", e.Code, e.Message)
}

// URL returns the address a call is posted to.
func (c *Client) URL(call ir.Call) string {
	return fmt.Sprintf("%s/web/dataset/call_kw/%s/%s", c.endpoint, call.Model, call.Method)
}

// Invoke performs one remote call and returns its decoded result.
func (c *Client) Invoke(ctx context.Context, call ir.Call) (ir.IRValue, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("invoke %s.%s: %w", call.Model, call.Method, err)
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params:  call.Object(),
		ID:      c.nextID.Add(1),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s.%s: encode request: %w", call.Model, call.Method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL(call), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invoke %s.%s: %w", call.Model, call.Method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invoke %s.%s: %w", call.Model, call.Method, err)
	}
	defer resp.Body.Close()

	slog.Debug("remote call answered",
		"model", call.Model,
		"method", call.Method,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("invoke %s.%s: http %d: %s",
			call.Model, call.Method, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("invoke %s.%s: decode response: %w", call.Model, call.Method, err)
	}
	if rpcResp.Error != nil {
		rerr := &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
		if len(rpcResp.Error.Data) > 0 {
			rerr.Data, _ = ir.UnmarshalIRValue(rpcResp.Error.Data)
		}
		return nil, rerr
	}
	if len(rpcResp.Result) == 0 {
		return ir.IRNull{}, nil
	}

	result, err := ir.UnmarshalIRValue(rpcResp.Result)
	if err != nil {
		return nil, fmt.Errorf("invoke %s.%s: decode result: %w", call.Model, call.Method, err)
	}
	return result, nil
}
