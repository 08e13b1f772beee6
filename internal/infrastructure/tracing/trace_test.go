package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/GriffinCanCode/termbroker/internal/shared/id"
)

func newObservedTracer(t *testing.T) (*Tracer, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	return New("test", zap.New(core)), logs
}

func TestStartSpanContinuesTrace(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	defer tracer.Close()

	root, ctx := tracer.StartSpan(context.Background(), "root")
	child, childCtx := tracer.StartSpan(ctx, "child")

	assert.Equal(t, root.TraceID, child.TraceID)
	assert.Equal(t, root.SpanID, child.ParentID)
	assert.Empty(t, root.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(childCtx))
	assert.Equal(t, root.TraceID, GetTraceID(childCtx))
}

func TestCloseFlushesSpans(t *testing.T) {
	tracer, logs := newObservedTracer(t)

	ok, _ := tracer.StartSpan(context.Background(), "ok")
	ok.Finish()
	tracer.Submit(ok)

	failed, _ := tracer.StartSpan(context.Background(), "failed")
	failed.SetError(errors.New("boom"))
	failed.Finish()
	tracer.Submit(failed)

	tracer.Close()
	tracer.Close()
	tracer.Submit(ok)

	assert.Equal(t, 1, logs.FilterMessage("Span completed").Len())
	errs := logs.FilterMessage("Span completed with error").All()
	require.Len(t, errs, 1)
	assert.Equal(t, "failed", errs[0].ContextMap()["operation"])
	assert.Equal(t, int64(http.StatusInternalServerError), errs[0].ContextMap()["status"])
}

func TestInjectExtractRoundTrip(t *testing.T) {
	tracer, _ := newObservedTracer(t)
	defer tracer.Close()

	span, ctx := tracer.StartSpan(context.Background(), "client")
	h := http.Header{}
	InjectTraceContext(ctx, h)

	traceID, spanID := ExtractTraceContext(h)
	assert.Equal(t, span.TraceID, traceID)
	assert.Equal(t, span.SpanID, spanID)

	empty := http.Header{}
	InjectTraceContext(context.Background(), empty)
	assert.Empty(t, empty)
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, logs := newObservedTracer(t)

	var seen string
	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	r.GET("/sessions/:id", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context()).String()
		c.Status(http.StatusNotFound)
	})

	upstream := id.NewTraceID().String()
	req := httptest.NewRequest(http.MethodGet, "/sessions/7", nil)
	req.Header.Set(TraceHeader, upstream)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, upstream, seen)
	assert.Equal(t, upstream, w.Header().Get(TraceHeader))
	assert.NotEmpty(t, w.Header().Get(SpanHeader))

	tracer.Close()
	entries := logs.FilterMessage("Span completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "/sessions/:id", entries[0].ContextMap()["operation"])
}

func TestHTTPMiddlewareReplacesMalformedTrace(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, _ := newObservedTracer(t)
	defer tracer.Close()

	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(TraceHeader, "trace_upstream")
	req.Header.Set(SpanHeader, "<script>")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	got := w.Header().Get(TraceHeader)
	assert.NotEqual(t, "trace_upstream", got)
	assert.True(t, id.IsValid(got), got)
}

func TestExtractTraceContextIgnoresForeignIDs(t *testing.T) {
	h := http.Header{}
	h.Set(TraceHeader, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	h.Set(SpanHeader, "span_not-a-ulid")

	traceID, spanID := ExtractTraceContext(h)
	assert.Empty(t, traceID)
	assert.Empty(t, spanID)
}

func TestHTTPMiddlewareLogsStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer, logs := newObservedTracer(t)

	r := gin.New()
	r.Use(HTTPMiddleware(tracer))
	r.GET("/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/7", nil))

	tracer.Close()
	entries := logs.FilterMessage("Span completed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/sessions/:id", fields["operation"])
	assert.Equal(t, "404", fields["http.status"])
}
