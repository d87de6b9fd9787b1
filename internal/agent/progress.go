package agent

import (
	"sort"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/shared/geo"
)

type mark struct {
	seq       int64
	distanceM float64
}

// progress is the device's optimistic view of the trip. It is owned by the
// session mutex.
type progress struct {
	status      domain.TripStatus
	distanceM   float64
	lastFix     *domain.PositionSample
	elapsedBase time.Duration
	activeSince time.Time
	// marks remember the cumulative distance at each unconfirmed sample so a
	// flushed batch can report the distance at its own last point.
	marks []mark
}

func (p *progress) reset(status domain.TripStatus, distanceM float64, elapsed time.Duration, now time.Time) {
	p.status = status
	if distanceM > p.distanceM {
		p.distanceM = distanceM
	}
	p.elapsedBase = elapsed
	p.activeSince = time.Time{}
	if status == domain.TripActive {
		p.activeSince = now
	}
}

func (p *progress) setStatus(status domain.TripStatus, now time.Time) {
	if p.status == status {
		return
	}
	if p.status == domain.TripActive && !p.activeSince.IsZero() {
		p.elapsedBase += now.Sub(p.activeSince)
	}
	p.activeSince = time.Time{}
	if status == domain.TripActive {
		p.activeSince = now
	}
	p.status = status
}

func (p *progress) elapsed(now time.Time) time.Duration {
	if p.activeSince.IsZero() {
		return p.elapsedBase
	}
	return p.elapsedBase + now.Sub(p.activeSince)
}

// add accounts a buffered sample.
func (p *progress) add(s domain.PositionSample) {
	if p.lastFix != nil {
		p.distanceM += geo.DistanceM(p.lastFix.Lat, p.lastFix.Lng, s.Lat, s.Lng)
	}
	fix := s
	p.lastFix = &fix
	p.marks = append(p.marks, mark{seq: s.Seq, distanceM: p.distanceM})
}

// distanceAt returns the cumulative distance recorded at seq, or zero when
// the sample is unknown to this process.
func (p *progress) distanceAt(seq int64) float64 {
	i := sort.Search(len(p.marks), func(i int) bool { return p.marks[i].seq >= seq })
	if i < len(p.marks) && p.marks[i].seq == seq {
		return p.marks[i].distanceM
	}
	return 0
}

// confirm drops marks up to seq and adopts the server distance when it is
// ahead of the local estimate.
func (p *progress) confirm(seq int64, serverDistanceM float64) {
	i := sort.Search(len(p.marks), func(i int) bool { return p.marks[i].seq > seq })
	p.marks = append([]mark(nil), p.marks[i:]...)
	if serverDistanceM > p.distanceM {
		p.distanceM = serverDistanceM
	}
}
