package buffer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// Memory is a volatile Buffer for tests and embedding.
type Memory struct {
	max int
	log *slog.Logger

	mu      sync.Mutex
	entries []Entry
	lastSeq int64
	dropped int64
}

func NewMemory(max int, log *slog.Logger) *Memory {
	if max <= 0 {
		max = DefaultMaxSamples
	}
	if log == nil {
		log = slog.Default()
	}
	return &Memory{max: max, log: log}
}

func (m *Memory) Append(_ context.Context, tripID string, s domain.PositionSample) (domain.PositionSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Seq = nextSeq(m.lastSeq, s.CapturedAt)
	s.Pending = true
	m.lastSeq = s.Seq
	m.entries = append(m.entries, Entry{TripID: tripID, Sample: s})
	if over := len(m.entries) - m.max; over > 0 {
		m.entries = append([]Entry(nil), m.entries[over:]...)
		m.dropped += int64(over)
		m.log.Warn("buffer_dropped_oldest", "dropped", over, "total_dropped", m.dropped)
	}
	return s, nil
}

func (m *Memory) Peek(_ context.Context, n int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.entries) {
		n = len(m.entries)
	}
	return append([]Entry(nil), m.entries[:n]...), nil
}

func (m *Memory) Ack(_ context.Context, through int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := 0
	for i < len(m.entries) && m.entries[i].Sample.Seq <= through {
		i++
	}
	m.entries = m.entries[i:]
	return nil
}

func (m *Memory) Len(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *Memory) Dropped() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *Memory) Close() error { return nil }
