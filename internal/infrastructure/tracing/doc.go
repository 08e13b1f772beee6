/*
Package tracing provides lightweight request tracing for the HTTP surface.

Each request gets a span. Trace context arrives and leaves in the
X-Trace-ID and X-Span-ID headers, so a termctl invocation and the server
log lines it caused share one trace id. Finished spans are written to the
structured log by a background collector.

# Usage

	tracer := tracing.New("termbroker", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "teardown")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
