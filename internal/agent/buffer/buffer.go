// Package buffer is the device-side queue of position samples awaiting
// durable persistence. Samples leave the queue only when acknowledged, and
// always in capture order.
package buffer

import (
	"context"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// DefaultMaxSamples bounds the queue. When full the oldest sample is dropped
// and counted.
const DefaultMaxSamples = 50000

type Entry struct {
	TripID string
	Sample domain.PositionSample
}

type Buffer interface {
	// Append assigns the sample its sequence number and queues it.
	Append(ctx context.Context, tripID string, s domain.PositionSample) (domain.PositionSample, error)
	// Peek returns up to n of the oldest entries without removing them.
	Peek(ctx context.Context, n int) ([]Entry, error)
	// Ack removes every entry with Seq <= through.
	Ack(ctx context.Context, through int64) error
	Len(ctx context.Context) (int, error)
	Dropped() int64
	Close() error
}

// nextSeq keeps sequence numbers strictly increasing and anchored to the
// capture clock, so a recreated buffer does not reuse numbers the server
// already holds.
func nextSeq(last int64, capturedAt time.Time) int64 {
	seq := capturedAt.UnixMicro()
	if seq <= last {
		seq = last + 1
	}
	return seq
}
