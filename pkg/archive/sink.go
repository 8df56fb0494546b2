package archive

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aigrc/pipeline/pkg/canonical"
	"github.com/aigrc/pipeline/pkg/events"
)

const (
	DefaultSegmentEvents = 1000
	DefaultFlushInterval = time.Minute
)

// SinkConfig wires a Sink.
type SinkConfig struct {
	// SegmentEvents closes a segment once it holds this many lines.
	SegmentEvents int
	// FlushInterval closes a partial segment after this long.
	FlushInterval time.Duration
	Logger        *slog.Logger

	// OnExport runs after each successful segment write; the metrics
	// wiring hangs off it. It must not block.
	OnExport func(hash string, events int)
}

// Sink accumulates accepted events as canonical JSONL lines and ships
// each finished segment to content-addressed storage. It hangs off the
// server's acceptance hook and never surfaces errors into ingestion:
// the archive is a secondary copy, rebuildable from the event store,
// so a failed export is logged and dropped instead of backing up.
type Sink struct {
	store         Store
	segmentEvents int
	logger        *slog.Logger
	onExport      func(hash string, events int)

	mu       sync.Mutex
	lines    [][]byte
	disposed bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewSink returns a running sink; its flush timer starts immediately.
func NewSink(store Store, cfg SinkConfig) *Sink {
	if cfg.SegmentEvents <= 0 {
		cfg.SegmentEvents = DefaultSegmentEvents
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Sink{
		store:         store,
		segmentEvents: cfg.SegmentEvents,
		logger:        cfg.Logger,
		onExport:      cfg.OnExport,
		stopCh:        make(chan struct{}),
	}
	s.wg.Add(1)
	go s.exportLoop(cfg.FlushInterval)
	return s
}

// Record appends one accepted event to the open segment. The line is
// the event's full canonical form, server fields included, so equal
// stored events always produce equal segment bytes.
func (s *Sink) Record(ctx context.Context, e *events.Event) {
	if e == nil {
		return
	}
	line, err := canonical.Canonicalize(e, canonical.WithoutExclusions())
	if err != nil {
		s.logger.Warn("archive line encode failed", "eventId", e.ID, "error", err)
		return
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.logger.Warn("archive sink closed, event not archived", "eventId", e.ID)
		return
	}
	s.lines = append(s.lines, line)
	var drained [][]byte
	if len(s.lines) >= s.segmentEvents {
		drained = s.drainLocked()
	}
	s.mu.Unlock()

	if drained != nil {
		go s.export(drained)
	}
}

// Pending returns the number of lines in the open segment.
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lines)
}

// Close stops the timer, exports the partial segment, and waits for
// running exports to finish. Safe to call more than once.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		s.wg.Wait()
		return
	}
	s.disposed = true
	close(s.stopCh)
	var drained [][]byte
	if len(s.lines) > 0 {
		drained = s.drainLocked()
	}
	s.mu.Unlock()

	if drained != nil {
		go s.export(drained)
	}
	s.wg.Wait()
}

// drainLocked swaps out the open segment and registers the export that
// must follow. Callers hold s.mu and must hand the result to s.export.
func (s *Sink) drainLocked() [][]byte {
	drained := s.lines
	s.lines = nil
	s.wg.Add(1)
	return drained
}

func (s *Sink) exportLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			var drained [][]byte
			if !s.disposed && len(s.lines) > 0 {
				drained = s.drainLocked()
			}
			s.mu.Unlock()
			if drained != nil {
				go s.export(drained)
			}
		}
	}
}

// export writes one finished segment. Exports run on a background
// context: the request that accepted the last event is long gone by
// the time its segment ships.
func (s *Sink) export(lines [][]byte) {
	defer s.wg.Done()

	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}

	hash, err := s.store.Store(context.Background(), buf.Bytes())
	if err != nil {
		s.logger.Error("segment export failed", "events", len(lines), "error", err)
		return
	}
	s.logger.Info("segment archived", "segment", hash, "events", len(lines))
	if s.onExport != nil {
		s.onExport(hash, len(lines))
	}
}
