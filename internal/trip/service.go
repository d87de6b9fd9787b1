package trip

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/events"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/shared/geo"
)

// reachedRadiusM is how close the last fix must be to the destination for
// the trip to be labelled reached.
const reachedRadiusM = 150

type Service struct {
	store   Store
	events  events.Publisher
	log     *slog.Logger
	now     func() time.Time
	backoff apperr.BackoffFunc
}

func NewService(store Store, publisher events.Publisher, log *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		events:  publisher,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		backoff: apperr.DefaultBackoff,
	}
}

// Plan creates a planned trip with the owner as leader.
func (s *Service) Plan(ctx context.Context, draft domain.TripDraft) (domain.Trip, error) {
	if err := validateDraft(draft); err != nil {
		return domain.Trip{}, err
	}
	var created domain.Trip
	err := apperr.Retry(ctx, s.backoff, func(ctx context.Context) error {
		t, leader := s.newTrip(draft, domain.TripPlanned)
		if err := s.store.CreateTrip(ctx, t, leader); err != nil {
			return err
		}
		created = t
		return nil
	})
	if err != nil {
		return domain.Trip{}, err
	}
	s.log.Info("trip_planned", "trip_id", created.ID, "owner_id", created.OwnerID)
	return created, nil
}

// Start force-completes the owner's open trips and creates a new active one.
func (s *Service) Start(ctx context.Context, draft domain.TripDraft) (domain.Trip, error) {
	if err := validateDraft(draft); err != nil {
		return domain.Trip{}, err
	}
	var (
		created   domain.Trip
		completed []domain.Trip
	)
	err := apperr.Retry(ctx, s.backoff, func(ctx context.Context) error {
		done, err := s.completeOpen(ctx, draft.OwnerID, "")
		completed = append(completed, done...)
		if err != nil {
			return err
		}
		t, leader := s.newTrip(draft, domain.TripActive)
		if err := s.store.CreateTrip(ctx, t, leader); err != nil {
			return err
		}
		created = t
		return nil
	})
	s.emitCompleted(ctx, completed, draft.OwnerID)
	if err != nil {
		return domain.Trip{}, err
	}
	s.log.Info("trip_started", "trip_id", created.ID, "owner_id", created.OwnerID, "auto_completed", len(completed))
	s.emit(ctx, events.ForTrip(created, domain.TripPlanned, draft.OwnerID, s.now()))
	return created, nil
}

// Activate moves a planned trip to active under the same one-open-trip rule
// as Start.
func (s *Service) Activate(ctx context.Context, tripID, userID string) (domain.Trip, error) {
	var completed []domain.Trip
	t, err := s.transition(ctx, tripID, userID, domain.TripActive, func(ctx context.Context, t domain.Trip) error {
		if t.Status != domain.TripPlanned {
			return nil
		}
		done, err := s.completeOpen(ctx, t.OwnerID, t.ID)
		completed = append(completed, done...)
		return err
	})
	s.emitCompleted(ctx, completed, userID)
	return t, err
}

func (s *Service) Pause(ctx context.Context, tripID, userID string) (domain.Trip, error) {
	return s.transition(ctx, tripID, userID, domain.TripPaused, nil)
}

func (s *Service) Resume(ctx context.Context, tripID, userID string) (domain.Trip, error) {
	return s.transition(ctx, tripID, userID, domain.TripActive, func(_ context.Context, t domain.Trip) error {
		if t.Status != domain.TripPaused {
			return apperr.New(apperr.CodeInvalidTransition, "only a paused trip can be resumed")
		}
		return nil
	})
}

// Complete finalizes the trip. Completing an already completed trip is a
// no-op so duplicate signals never double-finalize.
func (s *Service) Complete(ctx context.Context, tripID, userID string) (domain.Trip, error) {
	return s.transition(ctx, tripID, userID, domain.TripCompleted, nil)
}

// Cancel is only allowed before any telemetry was recorded.
func (s *Service) Cancel(ctx context.Context, tripID, userID string) (domain.Trip, error) {
	return s.transition(ctx, tripID, userID, domain.TripCancelled, func(_ context.Context, t domain.Trip) error {
		if t.Status != domain.TripPlanned && t.SampleCount > 0 {
			return apperr.New(apperr.CodeInvalidTransition, "trip has recorded telemetry, complete it instead")
		}
		return nil
	})
}

func (s *Service) Get(ctx context.Context, tripID string) (domain.Trip, error) {
	return s.store.GetTrip(ctx, tripID)
}

// Active returns the user's currently active trip.
func (s *Service) Active(ctx context.Context, userID string) (domain.Trip, error) {
	return s.store.ActiveTrip(ctx, userID)
}

// Describe decorates a trip with elapsed time and the reached label.
func (s *Service) Describe(t domain.Trip) View {
	v := View{Trip: t, ElapsedSec: int64(t.Elapsed(s.now()) / time.Second)}
	if t.LastPosition != nil && (t.Destination.Lat != 0 || t.Destination.Lng != 0) {
		v.Reached = geo.DistanceM(t.LastPosition.Lat, t.LastPosition.Lng, t.Destination.Lat, t.Destination.Lng) <= reachedRadiusM
	}
	return v
}

// transition loads the trip, checks permission and guard, then writes the
// next status conditionally. The whole read-check-write is retried on
// transient failures.
func (s *Service) transition(ctx context.Context, tripID, userID string, next domain.TripStatus, guard func(context.Context, domain.Trip) error) (domain.Trip, error) {
	var (
		out  domain.Trip
		from domain.TripStatus
		noop bool
	)
	err := apperr.Retry(ctx, s.backoff, func(ctx context.Context) error {
		noop = false
		t, err := s.store.GetTrip(ctx, tripID)
		if err != nil {
			return err
		}
		if next == domain.TripCompleted && t.Status == domain.TripCompleted {
			out, noop = t, true
			return nil
		}
		if err := s.authorize(ctx, t, userID); err != nil {
			return err
		}
		if guard != nil {
			if err := guard(ctx, t); err != nil {
				return err
			}
		}
		updated, err := t.Transition(next, s.now())
		if err != nil {
			return err
		}
		saved, err := s.store.UpdateTrip(ctx, updated, t.Status)
		if err != nil {
			return err
		}
		out, from = saved, t.Status
		return nil
	})
	if err != nil {
		s.log.Warn("trip_transition_failed", "trip_id", tripID, "user_id", userID, "to", next, "error", err)
		return domain.Trip{}, err
	}
	if noop {
		return out, nil
	}
	s.log.Info("trip_transition", "trip_id", tripID, "user_id", userID, "from", from, "to", out.Status)
	s.emit(ctx, events.ForTrip(out, from, userID, s.now()))
	return out, nil
}

// authorize admits only the current leader-of-record. The owner loses
// lifecycle control once leadership is handed over.
func (s *Service) authorize(ctx context.Context, t domain.Trip, userID string) error {
	if userID == "" {
		return apperr.ErrForbidden
	}
	leader, err := s.store.Leader(ctx, t.ID)
	if err != nil {
		return err
	}
	if leader.UserID != userID {
		return apperr.ErrNotLeader
	}
	return nil
}

// completeOpen finalizes every open trip of owner except keep.
func (s *Service) completeOpen(ctx context.Context, ownerID, keep string) ([]domain.Trip, error) {
	open, err := s.store.OpenTrips(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	var done []domain.Trip
	for _, t := range open {
		if t.ID == keep {
			continue
		}
		updated, err := t.Transition(domain.TripCompleted, s.now())
		if err != nil {
			return done, err
		}
		saved, err := s.store.UpdateTrip(ctx, updated, t.Status)
		if err != nil {
			return done, err
		}
		s.log.Info("trip_auto_completed", "trip_id", saved.ID, "owner_id", ownerID)
		done = append(done, saved)
	}
	return done, nil
}

func (s *Service) newTrip(draft domain.TripDraft, status domain.TripStatus) (domain.Trip, domain.RosterEntry) {
	now := s.now()
	t := domain.Trip{
		ID:          uuid.NewString(),
		OwnerID:     draft.OwnerID,
		Name:        strings.TrimSpace(draft.Name),
		Status:      status,
		Origin:      draft.Origin,
		Destination: draft.Destination,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if status == domain.TripActive {
		t.ActiveSince = &now
		t.StartedAt = &now
	}
	leader := domain.RosterEntry{
		TripID:    t.ID,
		UserID:    draft.OwnerID,
		IsLeader:  true,
		Status:    domain.MemberActive,
		JoinedAt:  now,
		UpdatedAt: now,
	}
	return t, leader
}

func (s *Service) emitCompleted(ctx context.Context, trips []domain.Trip, actorID string) {
	for _, t := range trips {
		s.emit(ctx, events.ForTrip(t, domain.TripActive, actorID, s.now()))
	}
}

// emit is best effort: the durable write already committed.
func (s *Service) emit(ctx context.Context, ev events.Event) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("trip_event_publish_failed", "type", ev.Type, "trip_id", ev.TripID, "error", err)
	}
}

func validateDraft(d domain.TripDraft) error {
	if d.OwnerID == "" {
		return apperr.New(apperr.CodeInvalidArgument, "owner required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return apperr.New(apperr.CodeInvalidArgument, "name required")
	}
	return nil
}
