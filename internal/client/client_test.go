package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termbroker/internal/infrastructure/config"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/server"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termbroker/internal/terminal"
)

func startServer(t *testing.T, opts ...server.Option) (*server.Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.RateLimit.Enabled = false

	s, err := server.NewServer(cfg, append([]server.Option{server.WithLogger(logging.NewNop())}, opts...)...)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts.URL
}

func TestClientAgainstEmptyServer(t *testing.T) {
	_, url := startServer(t)
	c := New(Config{BaseURL: url})
	ctx := context.Background()

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Zero(t, health.Sessions)

	platform, err := c.Platform(ctx)
	require.NoError(t, err)
	assert.Equal(t, terminal.Platform(), platform.Platform)
	assert.Equal(t, terminal.LineTerminator(platform.Platform), platform.LineTerminator)

	sessions, err := c.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = c.Session(ctx, 41)
	assert.ErrorIs(t, err, terminal.ErrUnknownSession)

	delivered, err := c.Write(ctx, 41, []byte("ls\n"))
	require.NoError(t, err)
	assert.False(t, delivered)

	delivered, err = c.Resize(ctx, 41, 100, 40)
	require.NoError(t, err)
	assert.False(t, delivered)

	kill, err := c.Kill(ctx, 41, time.Second)
	require.NoError(t, err)
	assert.False(t, kill.Delivered)

	killed, err := c.Teardown(ctx)
	require.NoError(t, err)
	assert.Zero(t, killed)
}

func flakyServer(t *testing.T, failures int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n <= failures {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"warming up"}`))
			return
		}
		switch r.URL.Path {
		case "/sessions":
			w.Write([]byte(`{"sessions":[{"id":3,"shell":"bash","status":"running"}],"count":1}`))
		default:
			w.WriteHeader(http.StatusAccepted)
			w.Write([]byte(`{"delivered":true}`))
		}
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func TestReadsAreRetried(t *testing.T) {
	ts, calls := flakyServer(t, 2)
	c := New(Config{BaseURL: ts.URL, RetryMax: 3})

	sessions, err := c.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, terminal.ID(3), sessions[0].ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestControlIsNotRetried(t *testing.T) {
	ts, calls := flakyServer(t, 1)
	c := New(Config{BaseURL: ts.URL, RetryMax: 3})

	_, err := c.Write(context.Background(), 3, []byte("rm -rf build\n"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "warming up", apiErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTraceHeaderIsSent(t *testing.T) {
	seen := make(chan string, 2)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get(tracing.TraceHeader)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer ts.Close()
	c := New(Config{BaseURL: ts.URL})

	_, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Contains(t, <-seen, "trace_")

	ctx := tracing.WithTrace(context.Background(), "trace_parent", "span_parent")
	_, err = c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "trace_parent", <-seen)
}

func TestStreamURL(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "http://127.0.0.1:8000", want: "ws://127.0.0.1:8000/stream"},
		{in: "https://term.example.com/broker/", want: "wss://term.example.com/broker/stream"},
		{in: "ws://localhost:1", want: "ws://localhost:1/stream"},
		{in: "ftp://x", wantErr: true},
	}
	for _, tt := range tests {
		got, err := streamURL(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
