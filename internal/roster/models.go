package roster

import (
	"context"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// Store is the durable convoy membership.
//
// Join inserts or reactivates the entry and fails with AlreadyMember or
// TripNotActive. TransferLeadership runs in one transaction holding the
// leader row lock: it fails with NotLeader unless fromUserID is the
// leader-of-record and with TargetNotActiveMember unless the target entry is
// active, then clears the old flag before setting the new one.
type Store interface {
	Join(ctx context.Context, entry domain.RosterEntry) (domain.RosterEntry, error)
	Leave(ctx context.Context, tripID, userID string, at time.Time) (domain.RosterEntry, error)
	TransferLeadership(ctx context.Context, tripID, fromUserID, toUserID string, at time.Time) error
	ListActive(ctx context.Context, tripID string) ([]domain.RosterEntry, error)
	Entry(ctx context.Context, tripID, userID string) (domain.RosterEntry, error)
	Leader(ctx context.Context, tripID string) (domain.RosterEntry, error)
}

type transferRequest struct {
	UserID string `json:"user_id"`
}
