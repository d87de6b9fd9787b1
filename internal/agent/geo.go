package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// GeoSource yields position fixes. Next blocks until a fix is available and
// returns io.EOF when the source is exhausted.
type GeoSource interface {
	Next(ctx context.Context) (domain.PositionSample, error)
}

// ReplaySource reads newline-delimited JSON fixes, optionally paced.
type ReplaySource struct {
	scanner *bufio.Scanner
	pace    time.Duration
	now     func() time.Time
	started bool
}

func NewReplaySource(r io.Reader, pace time.Duration) *ReplaySource {
	return &ReplaySource{
		scanner: bufio.NewScanner(r),
		pace:    pace,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *ReplaySource) Next(ctx context.Context) (domain.PositionSample, error) {
	if r.started && r.pace > 0 {
		timer := time.NewTimer(r.pace)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.PositionSample{}, ctx.Err()
		case <-timer.C:
		}
	}
	r.started = true
	for r.scanner.Scan() {
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var s domain.PositionSample
		if err := json.Unmarshal(line, &s); err != nil {
			return domain.PositionSample{}, fmt.Errorf("replay fix: %w", err)
		}
		s.Seq = 0
		if s.CapturedAt.IsZero() {
			s.CapturedAt = r.now()
		}
		return s, nil
	}
	if err := r.scanner.Err(); err != nil {
		return domain.PositionSample{}, err
	}
	return domain.PositionSample{}, io.EOF
}

// ChanSource delivers the fixes sent on its channel; closing it ends the
// source.
type ChanSource chan domain.PositionSample

func (c ChanSource) Next(ctx context.Context) (domain.PositionSample, error) {
	select {
	case <-ctx.Done():
		return domain.PositionSample{}, ctx.Err()
	case s, ok := <-c:
		if !ok {
			return domain.PositionSample{}, io.EOF
		}
		return s, nil
	}
}
