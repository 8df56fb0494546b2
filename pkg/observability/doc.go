// Package observability provides OpenTelemetry tracing and metrics for
// the event pipeline. Both signals export over OTLP gRPC and stay
// disabled until a collector endpoint is configured.
//
// # Setup
//
// Initialize the provider at application startup:
//
//	obs, err := observability.New(ctx, &observability.Config{
//		ServiceName: "aigrc-event-pipeline",
//		Endpoint:    "otel-collector:4317",
//		SampleRate:  0.1, // 10% sampling in production
//		Enabled:     true,
//	})
//	defer obs.Shutdown(ctx)
//
// Wrap the API handler to trace requests and record RED metrics:
//
//	http.ListenAndServe(addr, obs.Middleware(srv.Handler()))
//
// Create spans manually:
//
//	ctx, span := obs.StartSpan(ctx, "archive.export")
//	defer span.End()
//
// # Pipeline counters
//
// Ingest outcomes and rule findings are counted through typed
// recorders, wired as hooks on the API server and the rule engine:
//
//	obs.EventAccepted(ctx, event)
//	obs.EventRejected(ctx, events.CodeSchemaInvalid)
//	obs.RuleMatched(ctx, "killswitch", "escalate")
//
// # Service levels
//
// The middleware also feeds an in-process tracker that reports latency
// and availability against per-endpoint targets:
//
//	status, err := obs.SLO().Status("/v1/events")
package observability
