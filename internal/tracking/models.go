package tracking

import (
	"context"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// Store persists position history. AppendPositions is idempotent on
// (trip, user, seq) and returns how many samples were new. A non-nil
// progress is applied to the trip row in the same write.
type Store interface {
	GetTrip(ctx context.Context, id string) (domain.Trip, error)
	Entry(ctx context.Context, tripID, userID string) (domain.RosterEntry, error)
	AppendPositions(ctx context.Context, tripID, userID string, samples []domain.PositionSample, progress *domain.TripProgress) (int, error)
	Positions(ctx context.Context, tripID, userID string) ([]domain.PositionSample, error)
}

// Batch is one ordered flush from a device buffer. DistanceM is the
// device's own cumulative distance for the trip.
type Batch struct {
	Samples   []domain.PositionSample `json:"samples"`
	DistanceM float64                 `json:"distance_m"`
}

type BatchResult struct {
	Received  int     `json:"received"`
	Stored    int     `json:"stored"`
	LastSeq   int64   `json:"last_seq"`
	DistanceM float64 `json:"distance_m"`
}

type Summary struct {
	TripID        string  `json:"trip_id"`
	SampleCount   int64   `json:"sample_count"`
	DistanceM     float64 `json:"distance_m"`
	DurationSec   int64   `json:"duration_sec"`
	AverageSpeedM float64 `json:"average_speed_mps"`
}
