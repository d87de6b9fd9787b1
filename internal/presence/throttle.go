package presence

import (
	"context"
	"sync"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// Throttle publishes at most one record per interval. Offers made while it
// waits replace each other so only the latest goes out.
type Throttle struct {
	interval time.Duration
	publish  func(context.Context, domain.PresenceRecord) error

	mu      sync.Mutex
	pending *domain.PresenceRecord
	kick    chan struct{}
}

func NewThrottle(interval time.Duration, publish func(context.Context, domain.PresenceRecord) error) *Throttle {
	return &Throttle{
		interval: interval,
		publish:  publish,
		kick:     make(chan struct{}, 1),
	}
}

// Offer never blocks.
func (t *Throttle) Offer(rec domain.PresenceRecord) {
	t.mu.Lock()
	t.pending = &rec
	t.mu.Unlock()
	select {
	case t.kick <- struct{}{}:
	default:
	}
}

func (t *Throttle) take() (domain.PresenceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending == nil {
		return domain.PresenceRecord{}, false
	}
	rec := *t.pending
	t.pending = nil
	return rec, true
}

// Run publishes until ctx is done. A failed publish is dropped; the next
// offer supersedes it anyway.
func (t *Throttle) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.kick:
		}
		rec, ok := t.take()
		if !ok {
			continue
		}
		_ = t.publish(ctx, rec)

		if t.interval <= 0 {
			continue
		}
		timer := time.NewTimer(t.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
