package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

func (s *Store) CreateTrip(ctx context.Context, t domain.Trip, leader domain.RosterEntry) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO trips (id, owner_id, name, status,
				origin_lat, origin_lng, origin_label, dest_lat, dest_lng, dest_label,
				active_since, started_at, created_at, updated_at, version)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		`, t.ID, t.OwnerID, t.Name, string(t.Status),
			t.Origin.Lat, t.Origin.Lng, t.Origin.Label, t.Destination.Lat, t.Destination.Lng, t.Destination.Label,
			t.ActiveSince, t.StartedAt, t.CreatedAt, t.UpdatedAt, t.Version)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO roster_entries (trip_id, user_id, is_leader, status, joined_at, updated_at)
			VALUES ($1,$2,true,'active',$3,$4)
		`, t.ID, leader.UserID, leader.JoinedAt, leader.UpdatedAt)
		if err != nil {
			return err
		}
		if t.Status == domain.TripActive {
			return setActivePointer(ctx, tx, t)
		}
		return nil
	})
}

func (s *Store) GetTrip(ctx context.Context, id string) (domain.Trip, error) {
	t, err := scanTrip(s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id))
	if err != nil {
		return domain.Trip{}, notFound(err, apperr.ErrTripNotFound)
	}
	return t, nil
}

func (s *Store) OpenTrips(ctx context.Context, ownerID string) ([]domain.Trip, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE owner_id=$1 AND status IN ('active', 'paused')
		ORDER BY created_at
	`, ownerID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var trips []domain.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, classify(err)
		}
		trips = append(trips, t)
	}
	return trips, classify(rows.Err())
}

// ActiveTrip prefers the owner's pointer row and falls back to an open trip
// the user is an active member of.
func (s *Store) ActiveTrip(ctx context.Context, userID string) (domain.Trip, error) {
	t, err := scanTrip(s.db.QueryRow(ctx, `
		SELECT `+tripColumns+` FROM trips t
		WHERE t.status IN ('active', 'paused')
		  AND (t.id IN (SELECT trip_id FROM active_trips WHERE user_id=$1)
		       OR EXISTS (SELECT 1 FROM roster_entries r
		                  WHERE r.trip_id = t.id AND r.user_id=$1 AND r.status = 'active'))
		ORDER BY (t.owner_id = $1) DESC, t.updated_at DESC
		LIMIT 1
	`, userID))
	if err != nil {
		return domain.Trip{}, notFound(err, apperr.ErrTripNotFound)
	}
	return t, nil
}

func (s *Store) UpdateTrip(ctx context.Context, t domain.Trip, from domain.TripStatus) (domain.Trip, error) {
	var lastLat, lastLng *float64
	if t.LastPosition != nil {
		lastLat, lastLng = &t.LastPosition.Lat, &t.LastPosition.Lng
	}
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var version int64
		err := tx.QueryRow(ctx, `
			UPDATE trips
			SET status=$3, distance_m=$4, duration_sec=$5, sample_count=$6,
			    last_lat=$7, last_lng=$8, last_sample_at=$9,
			    active_since=$10, started_at=$11, paused_at=$12, completed_at=$13,
			    updated_at=$14, version = version + 1
			WHERE id=$1 AND status=$2 AND version=$15
			RETURNING version
		`, t.ID, string(from), string(t.Status), t.DistanceM, t.DurationSec, t.SampleCount,
			lastLat, lastLng, t.LastSampleAt,
			t.ActiveSince, t.StartedAt, t.PausedAt, t.CompletedAt,
			t.UpdatedAt, t.Version).Scan(&version)
		if err != nil {
			return notFound(err, apperr.ErrStaleWrite)
		}
		t.Version = version

		switch {
		case t.Status == domain.TripActive:
			return setActivePointer(ctx, tx, t)
		case t.Status.Terminal():
			if _, err := tx.Exec(ctx, `
				UPDATE roster_entries SET status='completed', updated_at=$2
				WHERE trip_id=$1 AND status='active'
			`, t.ID, t.UpdatedAt); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `DELETE FROM active_trips WHERE trip_id=$1`, t.ID)
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Trip{}, err
	}
	return t, nil
}

func setActivePointer(ctx context.Context, tx pgx.Tx, t domain.Trip) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO active_trips (user_id, trip_id, updated_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (user_id) DO UPDATE SET trip_id = EXCLUDED.trip_id, updated_at = EXCLUDED.updated_at
	`, t.OwnerID, t.ID, t.UpdatedAt)
	return err
}
