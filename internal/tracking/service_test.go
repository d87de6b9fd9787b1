package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/store/memory"
)

var t0 = time.Date(2026, 7, 1, 6, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, status domain.TripStatus) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	since := t0
	initial := domain.TripActive
	if status == domain.TripPlanned {
		initial = domain.TripPlanned
	}
	err := store.CreateTrip(ctx,
		domain.Trip{ID: "trip-1", OwnerID: "A", Name: "convoy", Status: initial, ActiveSince: &since, StartedAt: &since, CreatedAt: t0, UpdatedAt: t0, Version: 1},
		domain.RosterEntry{TripID: "trip-1", UserID: "A", IsLeader: true, Status: domain.MemberActive, JoinedAt: t0, UpdatedAt: t0},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := store.Join(ctx, domain.RosterEntry{TripID: "trip-1", UserID: "B", JoinedAt: t0, UpdatedAt: t0}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if status != initial {
		cur, _ := store.GetTrip(ctx, "trip-1")
		next, err := cur.Transition(status, t0.Add(time.Minute))
		if err != nil {
			t.Fatalf("transition: %v", err)
		}
		if _, err := store.UpdateTrip(ctx, next, initial); err != nil {
			t.Fatalf("update: %v", err)
		}
	}
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return t0.Add(10 * time.Minute) }
	return svc, store
}

func samples(from int64, n int, lat float64) []domain.PositionSample {
	out := make([]domain.PositionSample, 0, n)
	for i := 0; i < n; i++ {
		seq := from + int64(i)
		out = append(out, domain.PositionSample{
			Seq:        seq,
			Lat:        lat + float64(i)*0.001,
			Lng:        106.8,
			CapturedAt: t0.Add(time.Duration(seq) * time.Second),
		})
	}
	return out
}

func TestAppendBatchStoresHistoryInOrder(t *testing.T) {
	svc, store := newTestService(t, domain.TripActive)
	ctx := context.Background()

	res, err := svc.AppendBatch(ctx, "trip-1", "B", Batch{Samples: samples(1, 3, -6.2)})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if res.Stored != 3 || res.LastSeq != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	again, err := svc.AppendBatch(ctx, "trip-1", "B", Batch{Samples: samples(2, 3, -6.2)})
	if err != nil {
		t.Fatalf("append overlap: %v", err)
	}
	if again.Stored != 1 {
		t.Fatalf("expected only seq 4 stored on overlap, got %d", again.Stored)
	}

	history, _ := svc.Positions(ctx, "trip-1", "B")
	if len(history) != 4 {
		t.Fatalf("expected 4 stored samples, got %d", len(history))
	}
	for i, p := range history {
		if p.Seq != int64(i+1) {
			t.Fatalf("history out of order: %+v", history)
		}
	}

	trip, _ := store.GetTrip(ctx, "trip-1")
	if trip.LastPosition != nil {
		t.Fatalf("member batches must not move the owner's trip position")
	}
	if trip.SampleCount != 4 {
		t.Fatalf("expected sample count 4, got %d", trip.SampleCount)
	}
}

func TestAppendBatchOwnerProgressUsesLastPoint(t *testing.T) {
	svc, store := newTestService(t, domain.TripActive)
	ctx := context.Background()

	first := samples(1, 2, -6.2)
	if _, err := svc.AppendBatch(ctx, "trip-1", "A", Batch{Samples: first}); err != nil {
		t.Fatalf("first: %v", err)
	}
	trip, _ := store.GetTrip(ctx, "trip-1")
	if trip.LastPosition == nil || trip.LastPosition.Lat != first[1].Lat || trip.DistanceM != 0 {
		t.Fatalf("unexpected progress after first batch: %+v", trip)
	}

	second := samples(3, 3, -6.21)
	res, err := svc.AppendBatch(ctx, "trip-1", "A", Batch{Samples: second})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.DistanceM < 900 {
		t.Fatalf("expected haversine delta from last point, got %.1f", res.DistanceM)
	}

	res, err = svc.AppendBatch(ctx, "trip-1", "A", Batch{Samples: samples(6, 1, -6.208), DistanceM: 50000})
	if err != nil {
		t.Fatalf("third: %v", err)
	}
	if res.DistanceM != 50000 {
		t.Fatalf("expected device cumulative distance to win, got %.1f", res.DistanceM)
	}
}

func TestAppendBatchRules(t *testing.T) {
	svc, _ := newTestService(t, domain.TripActive)
	ctx := context.Background()

	if _, err := svc.AppendBatch(ctx, "trip-1", "A", Batch{}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected empty batch rejected, got %v", err)
	}
	unordered := samples(1, 2, -6.2)
	unordered[0], unordered[1] = unordered[1], unordered[0]
	if _, err := svc.AppendBatch(ctx, "trip-1", "A", Batch{Samples: unordered}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("expected unordered batch rejected, got %v", err)
	}
	if _, err := svc.AppendBatch(ctx, "trip-1", "stranger", Batch{Samples: samples(1, 1, -6.2)}); !errors.Is(err, apperr.ErrNotActiveMember) {
		t.Fatalf("expected non-member rejected, got %v", err)
	}

	planned, _ := newTestService(t, domain.TripPlanned)
	if _, err := planned.AppendBatch(ctx, "trip-1", "A", Batch{Samples: samples(1, 1, -6.2)}); !errors.Is(err, apperr.ErrTripNotActive) {
		t.Fatalf("expected planned trip rejected, got %v", err)
	}
}

func TestAppendBatchRequiresActiveMembership(t *testing.T) {
	svc, store := newTestService(t, domain.TripActive)
	ctx := context.Background()

	if _, err := store.Leave(ctx, "trip-1", "B", t0.Add(time.Minute)); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := svc.AppendBatch(ctx, "trip-1", "B", Batch{Samples: samples(1, 2, -6.2)}); !errors.Is(err, apperr.ErrNotActiveMember) {
		t.Fatalf("expected left member rejected, got %v", err)
	}
	if history, _ := svc.Positions(ctx, "trip-1", "B"); len(history) != 0 {
		t.Fatalf("expected no history for left member, got %d", len(history))
	}

	cur, _ := store.GetTrip(ctx, "trip-1")
	done, err := cur.Transition(domain.TripCompleted, t0.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if _, err := store.UpdateTrip(ctx, done, domain.TripActive); err != nil {
		t.Fatalf("update: %v", err)
	}
	res, err := svc.AppendBatch(ctx, "trip-1", "B", Batch{Samples: samples(1, 2, -6.2)})
	if err != nil || res.Stored != 2 {
		t.Fatalf("expected late history from a former member accepted: %+v %v", res, err)
	}
}

func TestAppendBatchAfterCompletionKeepsHistory(t *testing.T) {
	svc, store := newTestService(t, domain.TripCompleted)
	ctx := context.Background()

	res, err := svc.AppendBatch(ctx, "trip-1", "B", Batch{Samples: samples(1, 2, -6.2)})
	if err != nil || res.Stored != 2 {
		t.Fatalf("expected late flush accepted: %+v %v", res, err)
	}
	trip, _ := store.GetTrip(ctx, "trip-1")
	if trip.SampleCount != 0 || trip.DistanceM != 0 {
		t.Fatalf("completed trip stats must not change: %+v", trip)
	}
}

func TestSummary(t *testing.T) {
	svc, _ := newTestService(t, domain.TripActive)
	ctx := context.Background()
	if _, err := svc.AppendBatch(ctx, "trip-1", "A", Batch{Samples: samples(1, 1, -6.2), DistanceM: 1200}); err != nil {
		t.Fatalf("append: %v", err)
	}
	sum, err := svc.Summary(ctx, "trip-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.DurationSec != 600 || sum.DistanceM != 1200 || sum.AverageSpeedM != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}
