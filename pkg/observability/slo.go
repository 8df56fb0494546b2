package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// maxObservations caps the per-operation buffer. The middleware feeds
// the tracker on every request, so unbounded growth is not an option;
// when the cap is hit the oldest half is dropped.
const maxObservations = 8192

// SLOTarget defines a service level objective for one endpoint.
type SLOTarget struct {
	SLOID       string        `json:"sloId"`
	Name        string        `json:"name"`
	Operation   string        `json:"operation"`   // route label, e.g. "/v1/events"
	LatencyP99  time.Duration `json:"latencyP99"`  // target p99 latency
	SuccessRate float64       `json:"successRate"` // target success rate (0-1)
	WindowHours int           `json:"windowHours"` // evaluation window
}

// SLOObservation is a single data point.
type SLOObservation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports current compliance.
type SLOStatus struct {
	SLOID            string  `json:"sloId"`
	Operation        string  `json:"operation"`
	CurrentP99       float64 `json:"currentP99Ms"`
	CurrentSuccess   float64 `json:"currentSuccessRate"`
	InCompliance     bool    `json:"inCompliance"`
	BurnRate         float64 `json:"burnRate"`        // >1 means burning faster than budget allows
	ErrorBudgetLeft  float64 `json:"errorBudgetLeft"` // percentage remaining
	ObservationCount int     `json:"observationCount"`
}

// SLOTracker monitors service levels per endpoint.
type SLOTracker struct {
	mu           sync.Mutex
	targets      map[string]*SLOTarget       // operation → target
	observations map[string][]SLOObservation // operation → observations
	clock        func() time.Time
}

// NewSLOTracker creates an empty tracker.
func NewSLOTracker() *SLOTracker {
	return &SLOTracker{
		targets:      make(map[string]*SLOTarget),
		observations: make(map[string][]SLOObservation),
		clock:        time.Now,
	}
}

// defaultSLOTracker seeds targets for the write paths. Operators can
// add or replace targets through SetTarget.
func defaultSLOTracker() *SLOTracker {
	t := NewSLOTracker()
	t.SetTarget(&SLOTarget{
		SLOID:       "ingest-availability",
		Name:        "Sync ingest availability and latency",
		Operation:   "/v1/events",
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.999,
		WindowHours: 24,
	})
	t.SetTarget(&SLOTarget{
		SLOID:       "batch-availability",
		Name:        "Batch ingest availability and latency",
		Operation:   "/v1/events/batch",
		LatencyP99:  2 * time.Second,
		SuccessRate: 0.999,
		WindowHours: 24,
	})
	return t
}

// WithClock overrides clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget sets an SLO target for an operation.
func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Record records an observation.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	buf := append(t.observations[obs.Operation], obs)
	if len(buf) > maxObservations {
		buf = buf[len(buf)-maxObservations/2:]
	}
	t.observations[obs.Operation] = buf
}

// Status computes current SLO status for an operation.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, fmt.Errorf("no SLO target for operation %q", operation)
	}

	observations := t.observations[operation]
	now := t.clock()
	windowStart := now.Add(-time.Duration(target.WindowHours) * time.Hour)

	var windowed []SLOObservation
	for _, obs := range observations {
		if obs.Timestamp.After(windowStart) {
			windowed = append(windowed, obs)
		}
	}

	if len(windowed) == 0 {
		return &SLOStatus{
			SLOID:            target.SLOID,
			Operation:        operation,
			InCompliance:     true,
			ErrorBudgetLeft:  100.0,
			ObservationCount: 0,
		}, nil
	}

	successCount := 0
	for _, obs := range windowed {
		if obs.Success {
			successCount++
		}
	}
	successRate := float64(successCount) / float64(len(windowed))

	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	sort.Float64s(latencies)
	p99Index := int(float64(len(latencies)) * 0.99)
	if p99Index >= len(latencies) {
		p99Index = len(latencies) - 1
	}
	p99 := latencies[p99Index]

	latencyOK := p99 <= float64(target.LatencyP99.Milliseconds())
	successOK := successRate >= target.SuccessRate
	inCompliance := latencyOK && successOK

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate float64
	budgetLeft := 100.0
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
		budgetLeft = 100.0 * (1.0 - (errorRate / errorBudget))
		if budgetLeft < 0 {
			budgetLeft = 0
		}
	} else if errorRate > 0 {
		budgetLeft = 0
	}

	return &SLOStatus{
		SLOID:            target.SLOID,
		Operation:        operation,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     inCompliance,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}
