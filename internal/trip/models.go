package trip

import (
	"context"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// Store is the durable trip state used by the lifecycle service.
//
// UpdateTrip is a conditional write on (id, from, version). It bumps the
// version and applies the status side effects in the same transaction:
// entering active sets the owner's active pointer; entering a terminal
// status marks active roster entries completed and clears the pointer.
// A lost race returns apperr.ErrStaleWrite. Leader returns
// apperr.ErrNotLeader when the trip has no leader-of-record.
type Store interface {
	CreateTrip(ctx context.Context, t domain.Trip, leader domain.RosterEntry) error
	GetTrip(ctx context.Context, id string) (domain.Trip, error)
	OpenTrips(ctx context.Context, ownerID string) ([]domain.Trip, error)
	ActiveTrip(ctx context.Context, userID string) (domain.Trip, error)
	UpdateTrip(ctx context.Context, t domain.Trip, from domain.TripStatus) (domain.Trip, error)
	Leader(ctx context.Context, tripID string) (domain.RosterEntry, error)
}

type createRequest struct {
	Name        string       `json:"name"`
	Origin      domain.Point `json:"origin"`
	Destination domain.Point `json:"destination"`
}

// View is a trip with its derived elapsed time.
type View struct {
	domain.Trip
	ElapsedSec int64 `json:"elapsed_sec"`
	Reached    bool  `json:"reached"`
}
