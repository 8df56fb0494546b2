package producer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigrc/pipeline/pkg/events"
)

type sentCall struct {
	kind string // "sync" or "batch"
	ids  []string
}

// fakeSender records flush traffic. When block is set, every call
// parks on it first; notify fires once per completed call.
type fakeSender struct {
	mu     sync.Mutex
	calls  []sentCall
	err    error
	block  chan struct{}
	notify chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{notify: make(chan struct{}, 64)}
}

func (f *fakeSender) record(kind string, evs []*events.Event) error {
	if f.block != nil {
		<-f.block
	}
	ids := make([]string, len(evs))
	for i, e := range evs {
		ids[i] = e.ID
	}
	f.mu.Lock()
	f.calls = append(f.calls, sentCall{kind: kind, ids: ids})
	err := f.err
	f.mu.Unlock()
	f.notify <- struct{}{}
	return err
}

func (f *fakeSender) Push(ctx context.Context, e *events.Event) (*PushResponse, error) {
	if err := f.record("sync", []*events.Event{e}); err != nil {
		return nil, err
	}
	return &PushResponse{
		IngestResponse: events.IngestResponse{ID: e.ID, Status: events.StatusAccepted},
		Created:        true,
	}, nil
}

func (f *fakeSender) PushBatch(ctx context.Context, evs []*events.Event) (*events.BatchResponse, error) {
	if err := f.record("batch", evs); err != nil {
		return nil, err
	}
	return &events.BatchResponse{}, nil
}

func (f *fakeSender) snapshot() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

func (f *fakeSender) waitCalls(t *testing.T, n int) []sentCall {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if calls := f.snapshot(); len(calls) >= n {
			return calls
		}
		select {
		case <-f.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d sender calls, have %d", n, len(f.snapshot()))
		}
	}
}

func ev(id string) *events.Event {
	return &events.Event{ID: id, Criticality: events.CriticalityNormal}
}

func critical(id string) *events.Event {
	return &events.Event{ID: id, Criticality: events.CriticalityCritical}
}

func TestBufferSizeTrigger(t *testing.T) {
	f := newFakeSender()
	b := NewBuffer(f, BufferConfig{MaxSize: 3, FlushInterval: time.Hour, Logger: discardLogger()})
	defer b.Dispose()

	require.NoError(t, b.Add(ev("evt_1")))
	require.NoError(t, b.Add(ev("evt_2")))
	assert.Empty(t, f.snapshot())

	require.NoError(t, b.Add(ev("evt_3")))
	calls := f.waitCalls(t, 1)
	require.Len(t, calls, 1)
	assert.Equal(t, sentCall{kind: "batch", ids: []string{"evt_1", "evt_2", "evt_3"}}, calls[0])

	require.Eventually(t, func() bool { return b.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestBufferCriticalFlush(t *testing.T) {
	f := newFakeSender()
	b := NewBuffer(f, BufferConfig{FlushInterval: time.Hour, FlushOnCritical: true, Logger: discardLogger()})
	defer b.Dispose()

	require.NoError(t, b.Add(ev("evt_n1")))
	assert.Empty(t, f.snapshot())

	// The critical add drains everything buffered so far into a single
	// batch, preserving input order.
	require.NoError(t, b.Add(critical("evt_c1")))
	calls := f.waitCalls(t, 1)
	require.Len(t, calls, 1)
	assert.Equal(t, sentCall{kind: "batch", ids: []string{"evt_n1", "evt_c1"}}, calls[0])
}

func TestBufferIntervalFlush(t *testing.T) {
	f := newFakeSender()
	b := NewBuffer(f, BufferConfig{FlushInterval: 20 * time.Millisecond, Logger: discardLogger()})
	defer b.Dispose()

	require.NoError(t, b.Add(ev("evt_1")))
	calls := f.waitCalls(t, 1)
	// One buffered event rides the sync channel.
	assert.Equal(t, sentCall{kind: "sync", ids: []string{"evt_1"}}, calls[0])
}

func TestBufferManualFlush(t *testing.T) {
	f := newFakeSender()
	b := NewBuffer(f, BufferConfig{FlushInterval: time.Hour, Logger: discardLogger()})
	defer b.Dispose()

	require.NoError(t, b.Add(ev("evt_1")))
	require.NoError(t, b.Add(ev("evt_2")))
	b.Flush()

	// Flush is synchronous, so the delivery is visible on return.
	calls := f.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, sentCall{kind: "batch", ids: []string{"evt_1", "evt_2"}}, calls[0])
	assert.Zero(t, b.Pending())

	// Nothing buffered, so a second flush is a no-op.
	b.Flush()
	assert.Len(t, f.snapshot(), 1)
}

func TestBufferChunkedFlush(t *testing.T) {
	f := newFakeSender()
	b := NewBuffer(f, BufferConfig{MaxSize: 5, MaxBatchSize: 2, FlushInterval: time.Hour, Logger: discardLogger()})
	defer b.Dispose()

	require.NoError(t, b.AddMany([]*events.Event{
		ev("evt_1"), ev("evt_2"), ev("evt_3"), ev("evt_4"), ev("evt_5"),
	}))
	calls := f.waitCalls(t, 3)
	require.Len(t, calls, 3)
	assert.Equal(t, sentCall{kind: "batch", ids: []string{"evt_1", "evt_2"}}, calls[0])
	assert.Equal(t, sentCall{kind: "batch", ids: []string{"evt_3", "evt_4"}}, calls[1])
	assert.Equal(t, sentCall{kind: "batch", ids: []string{"evt_5"}}, calls[2])
}

func TestBufferAddManyEvaluatesTriggersOnce(t *testing.T) {
	f := newFakeSender()
	b := NewBuffer(f, BufferConfig{MaxSize: 2, FlushInterval: time.Hour, Logger: discardLogger()})
	defer b.Dispose()

	// Five events over a size-2 threshold still drain as one flush.
	require.NoError(t, b.AddMany([]*events.Event{
		ev("evt_1"), ev("evt_2"), ev("evt_3"), ev("evt_4"), ev("evt_5"),
	}))
	calls := f.waitCalls(t, 1)
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"evt_1", "evt_2", "evt_3", "evt_4", "evt_5"}, calls[0].ids)
}

func TestBufferDisposeFlushesRemainder(t *testing.T) {
	f := newFakeSender()
	b := NewBuffer(f, BufferConfig{FlushInterval: time.Hour, Logger: discardLogger()})

	require.NoError(t, b.Add(ev("evt_1")))
	require.NoError(t, b.Add(ev("evt_2")))
	b.Dispose()

	// Dispose waits for the drain, so the call is visible immediately.
	calls := f.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, sentCall{kind: "batch", ids: []string{"evt_1", "evt_2"}}, calls[0])
	assert.Zero(t, b.Pending())

	assert.ErrorIs(t, b.Add(ev("evt_3")), ErrDisposed)
	assert.ErrorIs(t, b.AddMany([]*events.Event{ev("evt_4")}), ErrDisposed)

	// Dispose is idempotent.
	b.Dispose()
	assert.Len(t, f.snapshot(), 1)
}

func TestBufferFlushErrorNotRebuffered(t *testing.T) {
	f := newFakeSender()
	f.err = assert.AnError

	var mu sync.Mutex
	var gotErr error
	var gotIDs []string
	b := NewBuffer(f, BufferConfig{
		MaxSize:       2,
		FlushInterval: time.Hour,
		Logger:        discardLogger(),
		OnFlushError: func(err error, evs []*events.Event) {
			mu.Lock()
			defer mu.Unlock()
			gotErr = err
			for _, e := range evs {
				gotIDs = append(gotIDs, e.ID)
			}
		},
	})
	defer b.Dispose()

	require.NoError(t, b.Add(ev("evt_1")))
	require.NoError(t, b.Add(ev("evt_2")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotErr != nil
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.ErrorIs(t, gotErr, assert.AnError)
	assert.Equal(t, []string{"evt_1", "evt_2"}, gotIDs)
	mu.Unlock()

	// Best effort: the failed events are gone, nothing is retried.
	require.Eventually(t, func() bool { return b.Pending() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, f.snapshot(), 1)
}

func TestBufferPendingCountsInFlight(t *testing.T) {
	f := newFakeSender()
	f.block = make(chan struct{})
	b := NewBuffer(f, BufferConfig{MaxSize: 2, FlushInterval: time.Hour, Logger: discardLogger()})

	require.NoError(t, b.Add(ev("evt_1")))
	assert.Equal(t, 1, b.Pending())

	// The second add trips the size trigger; both events are now in
	// flight behind the blocked sender.
	require.NoError(t, b.Add(ev("evt_2")))
	assert.Equal(t, 2, b.Pending())

	require.NoError(t, b.Add(ev("evt_3")))
	assert.Equal(t, 3, b.Pending())

	close(f.block)
	require.Eventually(t, func() bool { return b.Pending() == 1 }, 2*time.Second, 10*time.Millisecond)
	b.Dispose()
	assert.Zero(t, b.Pending())
}
