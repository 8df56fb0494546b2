package events

import "time"

// Per-event ingestion outcomes on the wire.
const (
	StatusAccepted  = "accepted"
	StatusCreated   = "created"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
)

// ErrorBody is the uniform error envelope for every non-2xx response.
type ErrorBody struct {
	Error *Error `json:"error"`
}

// IngestResponse acknowledges one event on the sync channel. Status is
// always "accepted"; the HTTP status distinguishes a fresh write (201)
// from a replay (200).
type IngestResponse struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// BatchResult is the outcome for one batch element, at the element's
// input index.
type BatchResult struct {
	ID         string     `json:"id,omitempty"`
	Status     string     `json:"status"`
	ReceivedAt *time.Time `json:"receivedAt,omitempty"`
	Error      *Error     `json:"error,omitempty"`
}

// BatchResponse aggregates per-element outcomes. Counters always sum
// to len(Results).
type BatchResponse struct {
	Accepted  int           `json:"accepted"`
	Rejected  int           `json:"rejected"`
	Duplicate int           `json:"duplicate"`
	Results   []BatchResult `json:"results"`
}

// Append adds one result and bumps the matching counter.
func (b *BatchResponse) Append(r BatchResult) {
	switch r.Status {
	case StatusCreated, StatusAccepted:
		b.Accepted++
	case StatusDuplicate:
		b.Duplicate++
	default:
		b.Rejected++
	}
	b.Results = append(b.Results, r)
}

// Merge folds another response's counters and results onto b,
// preserving result order.
func (b *BatchResponse) Merge(other *BatchResponse) {
	if other == nil {
		return
	}
	b.Accepted += other.Accepted
	b.Rejected += other.Rejected
	b.Duplicate += other.Duplicate
	b.Results = append(b.Results, other.Results...)
}
