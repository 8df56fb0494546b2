package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aigrc/pipeline/pkg/events"
)

// Pipeline semantic convention attributes.
var (
	// Event attributes
	AttrEventID       = attribute.Key("aigrc.event.id")
	AttrEventType     = attribute.Key("aigrc.event.type")
	AttrEventCategory = attribute.Key("aigrc.event.category")
	AttrCriticality   = attribute.Key("aigrc.event.criticality")

	// Scope attributes
	AttrOrgID   = attribute.Key("aigrc.org.id")
	AttrAssetID = attribute.Key("aigrc.asset.id")

	// Outcome attributes
	AttrRejectCode = attribute.Key("aigrc.reject.code")
	AttrRuleID     = attribute.Key("aigrc.rule.id")
	AttrRuleAction = attribute.Key("aigrc.rule.action")
)

// EventAttrs describes one event on a span. It carries the event ID,
// so keep it off metrics.
func EventAttrs(e *events.Event) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEventID.String(e.ID),
		AttrEventType.String(e.Type),
		AttrEventCategory.String(string(e.Category)),
		AttrCriticality.String(string(e.Criticality)),
		AttrOrgID.String(e.OrgID),
		AttrAssetID.String(e.AssetID),
	}
}

// eventMetricAttrs is the bounded-cardinality subset used on counters.
func eventMetricAttrs(e *events.Event) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEventType.String(e.Type),
		AttrEventCategory.String(string(e.Category)),
		AttrCriticality.String(string(e.Criticality)),
		AttrOrgID.String(e.OrgID),
	}
}

// RuleAttrs describes one ingest rule finding.
func RuleAttrs(ruleID, action string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRuleID.String(ruleID),
		AttrRuleAction.String(action),
	}
}

// EventAccepted counts a first-time accepted event.
func (p *Provider) EventAccepted(ctx context.Context, e *events.Event) {
	if p.ingested != nil && e != nil {
		p.ingested.Add(ctx, 1, metric.WithAttributes(eventMetricAttrs(e)...))
	}
}

// EventDuplicate counts an idempotent replay of a stored event.
func (p *Provider) EventDuplicate(ctx context.Context, e *events.Event) {
	if p.duplicates != nil && e != nil {
		p.duplicates.Add(ctx, 1, metric.WithAttributes(eventMetricAttrs(e)...))
	}
}

// EventRejected counts a submission that failed validation or scope
// checks, keyed by error code.
func (p *Provider) EventRejected(ctx context.Context, code events.Code) {
	if p.rejections != nil {
		p.rejections.Add(ctx, 1, metric.WithAttributes(AttrRejectCode.String(string(code))))
	}
}

// RuleMatched counts an ingest rule finding.
func (p *Provider) RuleMatched(ctx context.Context, ruleID, action string) {
	if p.findings != nil {
		p.findings.Add(ctx, 1, metric.WithAttributes(RuleAttrs(ruleID, action)...))
	}
}

// EventsArchived counts events exported to an archive segment.
func (p *Provider) EventsArchived(ctx context.Context, count int) {
	if p.archived != nil && count > 0 {
		p.archived.Add(ctx, int64(count))
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus sets the span status based on error.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
