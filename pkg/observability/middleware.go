package observability

import (
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Middleware wraps an HTTP handler with a server span and RED metrics
// per request. A disabled provider returns the handler unchanged.
func (p *Provider) Middleware(next http.Handler) http.Handler {
	if p == nil || p.config == nil || !p.config.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctx, span := p.Tracer().Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(route),
				semconv.URLPath(r.URL.Path),
			),
		)
		defer span.End()

		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.HTTPRoute(route),
		}
		if p.activeRequests != nil {
			p.activeRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
			defer p.activeRequests.Add(ctx, -1, metric.WithAttributes(attrs...))
		}
		p.RecordRequest(ctx, attrs...)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r.WithContext(ctx))
		elapsed := time.Since(start)

		span.SetAttributes(semconv.HTTPResponseStatusCode(sw.status))
		attrs = append(attrs, semconv.HTTPResponseStatusCode(sw.status))
		p.RecordDuration(ctx, elapsed, attrs...)

		failed := sw.status >= http.StatusInternalServerError
		if failed {
			span.SetStatus(codes.Error, http.StatusText(sw.status))
			if p.errorCounter != nil {
				p.errorCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
			}
		}
		p.slo.Record(SLOObservation{
			Operation: route,
			Latency:   elapsed,
			Success:   !failed,
		})
	})
}

// statusWriter captures the response code for metrics. The handler
// skipping WriteHeader means an implicit 200, which is the initial
// value.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// routeLabel collapses path parameters so span names and metric
// attributes stay bounded.
func routeLabel(path string) string {
	if strings.HasPrefix(path, "/v1/events/") && path != "/v1/events/batch" {
		return "/v1/events/{id}"
	}
	return path
}
