// Package postgres implements the convoy stores on pgx. Every multi-row
// mutation runs in one transaction; conditional writes key on the trip
// version or on row locks.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/db"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

type Store struct {
	db  db.Querier
	now func() time.Time
}

func New(q db.Querier) *Store {
	return &Store{db: q, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return classify(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// classify maps driver failures onto the error taxonomy: constraint races
// become StaleWrite so the caller re-reads, connectivity becomes
// PersistenceUnavailable.
func classify(err error) error {
	if err == nil || apperr.CodeOf(err) != "" {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return apperr.Wrap(apperr.CodeStaleWrite, "concurrent update", err)
		case "23503":
			return apperr.Wrap(apperr.CodeTripNotFound, "trip not found", err)
		}
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	return apperr.Unavailable(err)
}

const tripColumns = `id, owner_id, name, status,
	origin_lat, origin_lng, origin_label, dest_lat, dest_lng, dest_label,
	distance_m, duration_sec, sample_count, last_lat, last_lng, last_sample_at,
	active_since, started_at, paused_at, completed_at, created_at, updated_at, version`

func scanTrip(row pgx.Row) (domain.Trip, error) {
	var (
		t                domain.Trip
		status           string
		lastLat, lastLng *float64
	)
	err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &status,
		&t.Origin.Lat, &t.Origin.Lng, &t.Origin.Label, &t.Destination.Lat, &t.Destination.Lng, &t.Destination.Label,
		&t.DistanceM, &t.DurationSec, &t.SampleCount, &lastLat, &lastLng, &t.LastSampleAt,
		&t.ActiveSince, &t.StartedAt, &t.PausedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt, &t.Version)
	if err != nil {
		return domain.Trip{}, err
	}
	t.Status = domain.TripStatus(status)
	if lastLat != nil && lastLng != nil {
		t.LastPosition = &domain.Point{Lat: *lastLat, Lng: *lastLng}
	}
	return t, nil
}

const rosterColumns = `trip_id, user_id, is_leader, status, joined_at, COALESCE(invite_code, ''), updated_at`

func scanEntry(row pgx.Row) (domain.RosterEntry, error) {
	var (
		e      domain.RosterEntry
		status string
	)
	if err := row.Scan(&e.TripID, &e.UserID, &e.IsLeader, &status, &e.JoinedAt, &e.InviteCode, &e.UpdatedAt); err != nil {
		return domain.RosterEntry{}, err
	}
	e.Status = domain.MemberStatus(status)
	return e, nil
}

const inviteColumns = `code, trip_id, inviter_id, COALESCE(invitee_id, ''), status, expires_at,
	COALESCE(accepted_by, ''), accepted_at, created_at`

func scanInvite(row pgx.Row) (domain.Invite, error) {
	var (
		inv    domain.Invite
		status string
	)
	err := row.Scan(&inv.Code, &inv.TripID, &inv.InviterID, &inv.InviteeID, &status, &inv.ExpiresAt,
		&inv.AcceptedBy, &inv.AcceptedAt, &inv.CreatedAt)
	if err != nil {
		return domain.Invite{}, err
	}
	inv.Status = domain.InviteStatus(status)
	return inv, nil
}

// notFound maps pgx.ErrNoRows onto a domain error and classifies the rest.
func notFound(err error, missing error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return missing
	}
	return classify(err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
