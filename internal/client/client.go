package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/termbroker/internal/api/http"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termbroker/internal/shared/id"
	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RetryMax bounds retries of idempotent reads. Control calls are never
	// retried.
	RetryMax int
	Logger   *zap.Logger
}

// DefaultConfig returns the client defaults for a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:  "http://127.0.0.1:8000",
		Timeout:  30 * time.Second,
		RetryMax: 3,
		Logger:   zap.NewNop(),
	}
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Health is the body of GET /health.
type Health struct {
	Status   string              `json:"status"`
	Sessions int                 `json:"sessions"`
	Metrics  monitoring.Snapshot `json:"metrics"`
}

// Client calls the REST surface of a termbroker server.
type Client struct {
	reads   *resty.Client
	control *resty.Client
	logger  *zap.Logger
}

// New creates a client.
func New(cfg Config) *Client {
	defaults := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	retrying := retryablehttp.NewClient()
	retrying.RetryMax = cfg.RetryMax
	retrying.RetryWaitMin = 50 * time.Millisecond
	retrying.RetryWaitMax = time.Second
	retrying.Logger = leveledLogger{cfg.Logger.Sugar()}

	c := &Client{
		reads:   newResty(retrying.StandardClient(), cfg, cfg.Logger),
		control: newResty(&http.Client{}, cfg, cfg.Logger),
		logger:  cfg.Logger,
	}
	return c
}

func newResty(hc *http.Client, cfg Config, logger *zap.Logger) *resty.Client {
	r := resty.NewWithClient(hc).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("Accept", "application/json")

	r.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		tracing.InjectTraceContext(req.Context(), req.Header)
		if req.Header.Get(tracing.TraceHeader) == "" {
			req.Header.Set(tracing.TraceHeader, id.NewTraceID().String())
		}
		return nil
	})
	r.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		logger.Debug("Request completed",
			zap.String("method", resp.Request.Method),
			zap.String("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode()),
			zap.Duration("duration", resp.Time()),
			zap.String("trace_id", resp.Request.Header.Get(tracing.TraceHeader)),
		)
		return nil
	})
	return r
}

// Health reports server status.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(c.reads.R().SetContext(ctx).SetResult(&out), http.MethodGet, "/health"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Platform reports the server platform and its line terminator.
func (c *Client) Platform(ctx context.Context) (*apihttp.PlatformResponse, error) {
	var out apihttp.PlatformResponse
	if err := c.do(c.reads.R().SetContext(ctx).SetResult(&out), http.MethodGet, "/platform"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sessions lists live sessions.
func (c *Client) Sessions(ctx context.Context) ([]terminal.Info, error) {
	var out struct {
		Sessions []terminal.Info `json:"sessions"`
	}
	if err := c.do(c.reads.R().SetContext(ctx).SetResult(&out), http.MethodGet, "/sessions"); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// Session returns one session, or terminal.ErrUnknownSession.
func (c *Client) Session(ctx context.Context, sid terminal.ID) (*terminal.Info, error) {
	var out terminal.Info
	err := c.do(c.reads.R().SetContext(ctx).SetResult(&out), http.MethodGet, "/sessions/"+sid.String())
	if apiErr := (*APIError)(nil); errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, terminal.ErrUnknownSession
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Write sends input to a session and reports whether it was delivered.
func (c *Client) Write(ctx context.Context, sid terminal.ID, data []byte) (bool, error) {
	var out apihttp.ControlResponse
	req := c.control.R().SetContext(ctx).
		SetBody(apihttp.InputRequest{Data: string(data)}).
		SetResult(&out)
	if err := c.do(req, http.MethodPost, "/sessions/"+sid.String()+"/input"); err != nil {
		return false, err
	}
	return out.Delivered, nil
}

// Resize changes a session's size and reports whether it was delivered.
func (c *Client) Resize(ctx context.Context, sid terminal.ID, cols, rows int) (bool, error) {
	var out apihttp.ControlResponse
	req := c.control.R().SetContext(ctx).
		SetBody(apihttp.ResizeRequest{Cols: &cols, Rows: &rows}).
		SetResult(&out)
	if err := c.do(req, http.MethodPost, "/sessions/"+sid.String()+"/resize"); err != nil {
		return false, err
	}
	return out.Delivered, nil
}

// Kill signals a session. A positive wait asks the server to await the exit.
func (c *Client) Kill(ctx context.Context, sid terminal.ID, wait time.Duration) (*apihttp.KillResponse, error) {
	var out apihttp.KillResponse
	req := c.control.R().SetContext(ctx).SetResult(&out)
	if wait > 0 {
		req.SetQueryParam("wait", wait.String())
	}
	if err := c.do(req, http.MethodDelete, "/sessions/"+sid.String()); err != nil {
		return nil, err
	}
	return &out, nil
}

// Teardown kills every session and returns how many there were.
func (c *Client) Teardown(ctx context.Context) (int, error) {
	var out struct {
		Killed int `json:"killed"`
	}
	if err := c.do(c.control.R().SetContext(ctx).SetResult(&out), http.MethodPost, "/sessions/teardown"); err != nil {
		return 0, err
	}
	return out.Killed, nil
}

func (c *Client) do(req *resty.Request, method, path string) error {
	apiErr := &APIError{}
	resp, err := req.SetError(apiErr).Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode())
		}
		return apiErr
	}
	return nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }

