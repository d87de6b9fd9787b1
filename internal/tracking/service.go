package tracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/shared/geo"
)

// MaxBatch bounds the samples accepted in one request.
const MaxBatch = 1000

type Service struct {
	store   Store
	log     *slog.Logger
	now     func() time.Time
	backoff apperr.BackoffFunc
}

func NewService(store Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		backoff: apperr.DefaultBackoff,
	}
}

// AppendBatch stores a device batch as trip history. Samples must be in
// strictly increasing seq order. Only the batch's last point feeds the
// trip's distance and current position, and only for the owner's device
// while the trip is open. An open trip takes samples only from active
// members. A completed trip still accepts late history from anyone on its
// roster, so a device that flushes after completion loses nothing.
func (s *Service) AppendBatch(ctx context.Context, tripID, userID string, batch Batch) (BatchResult, error) {
	if err := validateBatch(batch); err != nil {
		return BatchResult{}, err
	}
	var result BatchResult
	err := apperr.Retry(ctx, s.backoff, func(ctx context.Context) error {
		t, err := s.store.GetTrip(ctx, tripID)
		if err != nil {
			return err
		}
		if !t.Status.Open() && t.Status != domain.TripCompleted {
			return apperr.ErrTripNotActive
		}
		e, err := s.store.Entry(ctx, tripID, userID)
		if err != nil {
			return err
		}
		if t.Status.Open() && !e.Active() {
			return apperr.ErrNotActiveMember
		}

		last := batch.Samples[len(batch.Samples)-1]
		var progress *domain.TripProgress
		distance := t.DistanceM
		if t.Status.Open() && t.OwnerID == userID && (t.LastSampleAt == nil || last.CapturedAt.After(*t.LastSampleAt)) {
			if t.LastPosition != nil {
				distance += geo.DistanceM(t.LastPosition.Lat, t.LastPosition.Lng, last.Lat, last.Lng)
			}
			if batch.DistanceM > distance {
				distance = batch.DistanceM
			}
			progress = &domain.TripProgress{
				LastPosition: last.Point(),
				LastSampleAt: last.CapturedAt,
				DistanceM:    distance,
			}
		}

		stored, err := s.store.AppendPositions(ctx, tripID, userID, batch.Samples, progress)
		if err != nil {
			return err
		}
		result = BatchResult{
			Received:  len(batch.Samples),
			Stored:    stored,
			LastSeq:   last.Seq,
			DistanceM: distance,
		}
		return nil
	})
	if err != nil {
		s.log.Warn("position_batch_rejected", "trip_id", tripID, "user_id", userID, "samples", len(batch.Samples), "error", err)
		return BatchResult{}, err
	}
	s.log.Debug("position_batch_stored", "trip_id", tripID, "user_id", userID,
		"received", result.Received, "stored", result.Stored, "last_seq", result.LastSeq)
	return result, nil
}

// Positions returns a member's stored history in capture order.
func (s *Service) Positions(ctx context.Context, tripID, userID string) ([]domain.PositionSample, error) {
	if _, err := s.store.GetTrip(ctx, tripID); err != nil {
		return nil, err
	}
	return s.store.Positions(ctx, tripID, userID)
}

func (s *Service) Summary(ctx context.Context, tripID string) (Summary, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return Summary{}, err
	}
	elapsed := t.Elapsed(s.now())
	avg := 0.0
	if elapsed.Seconds() > 0 {
		avg = t.DistanceM / elapsed.Seconds()
	}
	return Summary{
		TripID:        t.ID,
		SampleCount:   t.SampleCount,
		DistanceM:     t.DistanceM,
		DurationSec:   int64(elapsed / time.Second),
		AverageSpeedM: avg,
	}, nil
}

func validateBatch(b Batch) error {
	if len(b.Samples) == 0 {
		return apperr.New(apperr.CodeInvalidArgument, "batch has no samples")
	}
	if len(b.Samples) > MaxBatch {
		return apperr.New(apperr.CodeInvalidArgument, "batch too large")
	}
	for i := 1; i < len(b.Samples); i++ {
		if b.Samples[i].Seq <= b.Samples[i-1].Seq {
			return apperr.New(apperr.CodeInvalidArgument, "samples must be in capture order")
		}
	}
	return nil
}
