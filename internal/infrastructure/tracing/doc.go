/*
Package tracing provides lightweight spans for HTTP requests and script runs.

# Overview

Spans are collected on a buffered channel and written to the structured log
when finished. Trace context travels in context.Context and, for HTTP, in the
X-Trace-ID and X-Span-ID headers.

# Usage

	tracer := tracing.New("scriptflow", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "script.run")
	span.SetTag("run_id", runID)
	// ... run ...
	span.Finish()
	tracer.Submit(span)
*/
package tracing
