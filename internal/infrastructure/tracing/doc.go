/*
Package tracing provides lightweight request tracing.

# Overview

Spans are created per HTTP request and per sandbox phase (provision, run,
reclaim), linked by trace and parent span IDs carried in the context, and
written to the structured log by a background collector. The remote
execution backend forwards the trace headers so runner logs can be joined
with ours.

# Usage

	tracer := tracing.New("codesync", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "sandbox.run")
	defer tracer.Submit(span)
	span.SetTag("language", "python")

# Trace Format

- X-Trace-ID: identifier for the whole request flow
- X-Span-ID: identifier for the current operation
*/
package tracing
