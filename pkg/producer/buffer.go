package producer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aigrc/pipeline/pkg/events"
)

// Buffer defaults.
const (
	DefaultMaxSize       = 100
	DefaultFlushInterval = 5 * time.Second
	DefaultMaxBatchSize  = 100
)

// Sender is the slice of the client the buffer flushes through.
type Sender interface {
	Push(ctx context.Context, e *events.Event) (*PushResponse, error)
	PushBatch(ctx context.Context, evs []*events.Event) (*events.BatchResponse, error)
}

// BufferConfig configures a Buffer. Zero values take defaults.
type BufferConfig struct {
	// MaxSize triggers a flush when the buffered count reaches it.
	MaxSize int

	// FlushInterval triggers a flush of a non-empty buffer on a timer.
	FlushInterval time.Duration

	// FlushOnCritical flushes immediately when a critical event lands.
	FlushOnCritical bool

	// MaxBatchSize chunks large flushes into sequential batch calls.
	MaxBatchSize int

	// OnFlushError receives delivery failures with the undelivered
	// events. They are never re-buffered; redelivery is the caller's
	// call. Nil falls back to logging.
	OnFlushError func(err error, evs []*events.Event)

	Logger *slog.Logger
}

// Buffer accumulates events and flushes them in the background on
// size, time, or criticality triggers. Delivery is best effort.
type Buffer struct {
	sender          Sender
	maxSize         int
	flushInterval   time.Duration
	flushOnCritical bool
	maxBatchSize    int
	onFlushError    func(err error, evs []*events.Event)
	logger          *slog.Logger

	mu       sync.Mutex
	buf      []*events.Event
	inFlight int
	disposed bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBuffer returns a running buffer; its flush timer starts
// immediately. Call Dispose to stop it and drain the remainder.
func NewBuffer(sender Sender, cfg BufferConfig) *Buffer {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	b := &Buffer{
		sender:          sender,
		maxSize:         cfg.MaxSize,
		flushInterval:   cfg.FlushInterval,
		flushOnCritical: cfg.FlushOnCritical,
		maxBatchSize:    cfg.MaxBatchSize,
		onFlushError:    cfg.OnFlushError,
		logger:          cfg.Logger,
		stopCh:          make(chan struct{}),
	}
	b.wg.Add(1)
	go b.flushLoop()
	return b
}

// Add appends one event. The append itself is cheap and synchronous;
// any triggered flush runs in the background.
func (b *Buffer) Add(e *events.Event) error {
	return b.AddMany([]*events.Event{e})
}

// AddMany appends events in order, evaluating flush triggers once
// after the whole append.
func (b *Buffer) AddMany(evs []*events.Event) error {
	if len(evs) == 0 {
		return nil
	}
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return ErrDisposed
	}
	b.buf = append(b.buf, evs...)

	critical := false
	if b.flushOnCritical {
		for _, e := range evs {
			if e.Criticality == events.CriticalityCritical {
				critical = true
				break
			}
		}
	}
	var drained []*events.Event
	if len(b.buf) >= b.maxSize || critical {
		drained = b.drainLocked()
	}
	b.mu.Unlock()

	if drained != nil {
		go b.flush(drained)
	}
	return nil
}

// Pending counts events not yet delivered: still buffered plus in a
// running flush.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf) + b.inFlight
}

// Flush drains the buffer and delivers synchronously.
func (b *Buffer) Flush() {
	b.mu.Lock()
	var drained []*events.Event
	if len(b.buf) > 0 {
		drained = b.drainLocked()
	}
	b.mu.Unlock()
	if drained != nil {
		b.flush(drained)
	}
}

// Dispose stops the timer, flushes the remainder, and waits for every
// running flush to finish. The buffer is terminal afterwards; it is
// safe to call Dispose more than once.
func (b *Buffer) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.disposed = true
	close(b.stopCh)
	var drained []*events.Event
	if len(b.buf) > 0 {
		drained = b.drainLocked()
	}
	b.mu.Unlock()

	if drained != nil {
		go b.flush(drained)
	}
	b.wg.Wait()
}

// drainLocked swaps out the buffered list and registers the flush that
// must follow. Callers hold b.mu and must hand the result to b.flush.
func (b *Buffer) drainLocked() []*events.Event {
	drained := b.buf
	b.buf = nil
	b.inFlight += len(drained)
	b.wg.Add(1)
	return drained
}

func (b *Buffer) flushLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.mu.Lock()
			var drained []*events.Event
			if !b.disposed && len(b.buf) > 0 {
				drained = b.drainLocked()
			}
			b.mu.Unlock()
			if drained != nil {
				go b.flush(drained)
			}
		}
	}
}

// flush delivers one drained list: a single event rides the sync
// channel, anything larger goes out as sequential batch chunks. A
// failed chunk is reported and skipped; later chunks still go out.
func (b *Buffer) flush(evs []*events.Event) {
	defer b.wg.Done()
	defer func() {
		b.mu.Lock()
		b.inFlight -= len(evs)
		b.mu.Unlock()
	}()

	ctx := context.Background()
	if len(evs) == 1 {
		if _, err := b.sender.Push(ctx, evs[0]); err != nil {
			b.reportFlushError(err, evs)
		}
		return
	}
	for start := 0; start < len(evs); start += b.maxBatchSize {
		end := min(start+b.maxBatchSize, len(evs))
		chunk := evs[start:end]
		if _, err := b.sender.PushBatch(ctx, chunk); err != nil {
			b.reportFlushError(err, chunk)
		}
	}
}

func (b *Buffer) reportFlushError(err error, evs []*events.Event) {
	if b.onFlushError != nil {
		b.onFlushError(err, evs)
		return
	}
	b.logger.Error("event flush failed", "count", len(evs), "error", err)
}
