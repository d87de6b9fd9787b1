package roster

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/events"
)

// Coordinator owns roster membership and leadership handover.
type Coordinator struct {
	store   Store
	events  events.Publisher
	log     *slog.Logger
	now     func() time.Time
	backoff apperr.BackoffFunc
}

func NewCoordinator(store Store, publisher events.Publisher, log *slog.Logger) *Coordinator {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		store:   store,
		events:  publisher,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		backoff: apperr.DefaultBackoff,
	}
}

func (c *Coordinator) Join(ctx context.Context, tripID, userID, inviteCode string) (domain.RosterEntry, error) {
	if userID == "" {
		return domain.RosterEntry{}, apperr.ErrForbidden
	}
	var entry domain.RosterEntry
	err := apperr.Retry(ctx, c.backoff, func(ctx context.Context) error {
		now := c.now()
		e, err := c.store.Join(ctx, domain.RosterEntry{
			TripID:     tripID,
			UserID:     userID,
			Status:     domain.MemberActive,
			JoinedAt:   now,
			InviteCode: inviteCode,
			UpdatedAt:  now,
		})
		entry = e
		return err
	})
	if err != nil {
		return domain.RosterEntry{}, err
	}
	c.log.Info("roster_joined", "trip_id", tripID, "user_id", userID)
	c.Changed(ctx, tripID, userID)
	return entry, nil
}

// Leave marks the caller's entry left. Leadership is not reassigned.
func (c *Coordinator) Leave(ctx context.Context, tripID, userID string) (domain.RosterEntry, error) {
	var entry domain.RosterEntry
	err := apperr.Retry(ctx, c.backoff, func(ctx context.Context) error {
		e, err := c.store.Leave(ctx, tripID, userID, c.now())
		entry = e
		return err
	})
	if err != nil {
		return domain.RosterEntry{}, err
	}
	c.log.Info("roster_left", "trip_id", tripID, "user_id", userID, "was_leader", entry.IsLeader)
	c.publish(ctx, events.MemberLeft, tripID, userID)
	return entry, nil
}

// TransferLeadership hands the leader flag from callerID to newLeaderID.
// Only the leader-of-record may transfer, even after leaving the convoy.
func (c *Coordinator) TransferLeadership(ctx context.Context, tripID, callerID, newLeaderID string) error {
	if newLeaderID == "" {
		return apperr.New(apperr.CodeInvalidArgument, "new leader required")
	}
	err := apperr.Retry(ctx, c.backoff, func(ctx context.Context) error {
		return c.store.TransferLeadership(ctx, tripID, callerID, newLeaderID, c.now())
	})
	if err != nil {
		c.log.Warn("leadership_transfer_rejected", "trip_id", tripID, "caller_id", callerID, "target_id", newLeaderID, "error", err)
		return err
	}
	c.log.Info("leadership_transferred", "trip_id", tripID, "from", callerID, "to", newLeaderID)
	c.Changed(ctx, tripID, callerID)
	return nil
}

func (c *Coordinator) ListActive(ctx context.Context, tripID string) ([]domain.RosterEntry, error) {
	return c.store.ListActive(ctx, tripID)
}

func (c *Coordinator) Leader(ctx context.Context, tripID string) (domain.RosterEntry, error) {
	return c.store.Leader(ctx, tripID)
}

func (c *Coordinator) Entry(ctx context.Context, tripID, userID string) (domain.RosterEntry, error) {
	return c.store.Entry(ctx, tripID, userID)
}

// RequireActive fails with NotActiveMember unless userID holds an active
// entry on the trip.
func (c *Coordinator) RequireActive(ctx context.Context, tripID, userID string) error {
	e, err := c.store.Entry(ctx, tripID, userID)
	if err != nil {
		return err
	}
	if !e.Active() {
		return apperr.ErrNotActiveMember
	}
	return nil
}

// Changed tells subscribers to re-read the roster.
func (c *Coordinator) Changed(ctx context.Context, tripID, actorID string) {
	c.publish(ctx, events.RosterChanged, tripID, actorID)
}

func (c *Coordinator) publish(ctx context.Context, typ events.Type, tripID, actorID string) {
	ev := events.Event{Type: typ, TripID: tripID, UserID: actorID, At: c.now()}
	if err := c.events.Publish(ctx, ev); err != nil {
		c.log.Warn("roster_event_publish_failed", "trip_id", tripID, "error", err)
	}
}
