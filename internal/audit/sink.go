package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puppeteer-mcp/puppeteer-mcp/internal/metrics"
)

// Sink appends audit events to daily log files. Writes happen on a
// dedicated goroutine fed by a bounded queue; Emit never blocks.
type Sink interface {
	Emit(Event)
	Close() error
}

// FileSink writes JSON lines to audit-YYYY-MM-DD.log files under dir.
type FileSink struct {
	dir     string
	queue   chan Event
	stopCh  chan struct{}
	wg      sync.WaitGroup
	dropped atomic.Int64

	mu      sync.Mutex // guards file rotation state
	file    *os.File
	curDate string

	closeOnce sync.Once
}

// NewFileSink creates the sink and starts the writer goroutine.
// The directory is created if missing.
func NewFileSink(dir string, queueSize int) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	if queueSize < 1 {
		queueSize = 1024
	}

	s := &FileSink{
		dir:    dir,
		queue:  make(chan Event, queueSize),
		stopCh: make(chan struct{}),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writeLoop()
	}()

	log.Info().Str("dir", dir).Int("queue_size", queueSize).Msg("Audit sink initialized")
	return s, nil
}

// Emit enqueues an event. On overflow the event is dropped and the drop
// counter incremented; producers are never stalled by a slow disk.
func (s *FileSink) Emit(ev Event) {
	select {
	case s.queue <- ev:
	default:
		dropped := s.dropped.Add(1)
		metrics.AuditDropped.Inc()
		if dropped%100 == 1 {
			log.Warn().Int64("dropped", dropped).Msg("Audit queue full, dropping events")
		}
	}
}

// Dropped returns the number of events dropped so far.
func (s *FileSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *FileSink) writeLoop() {
	for {
		select {
		case ev := <-s.queue:
			s.write(ev)
		case <-s.stopCh:
			// Drain whatever is already queued before exiting
			for {
				select {
				case ev := <-s.queue:
					s.write(ev)
				default:
					return
				}
			}
		}
	}
}

// write appends one event, rotating the file when the date changes.
func (s *FileSink) write(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := ev.Timestamp.Format("2006-01-02")
	if s.file == nil || date != s.curDate {
		if s.file != nil {
			if err := s.file.Close(); err != nil {
				log.Warn().Err(err).Msg("Error closing audit file during rotation")
			}
		}
		path := filepath.Join(s.dir, "audit-"+date+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to open audit file, event lost")
			return
		}
		s.file = f
		s.curDate = date
	}

	line, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to marshal audit event")
		return
	}
	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		log.Error().Err(err).Msg("Failed to write audit event")
	}
}

// Close stops the writer, flushes the queue, and closes the file.
// Safe to call multiple times.
func (s *FileSink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			log.Warn().Msg("Timeout waiting for audit writer to flush")
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.file != nil {
			err = s.file.Close()
			s.file = nil
		}
	})
	return err
}

// NopSink discards all events. Used when AUDIT_LOG_ENABLED=false and in
// tests that don't assert on audit output.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// Close implements Sink.
func (NopSink) Close() error { return nil }

// MemorySink records events in memory for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (m *MemorySink) Emit(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Close implements Sink.
func (m *MemorySink) Close() error { return nil }

// Events returns a snapshot of recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByType returns recorded events of one type.
func (m *MemorySink) ByType(t EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
