package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

func (s *Store) Leader(ctx context.Context, tripID string) (domain.RosterEntry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx,
		`SELECT `+rosterColumns+` FROM roster_entries WHERE trip_id=$1 AND is_leader`, tripID))
	if err != nil {
		return domain.RosterEntry{}, notFound(err, apperr.ErrNotLeader)
	}
	return e, nil
}

func (s *Store) Entry(ctx context.Context, tripID, userID string) (domain.RosterEntry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx,
		`SELECT `+rosterColumns+` FROM roster_entries WHERE trip_id=$1 AND user_id=$2`, tripID, userID))
	if err != nil {
		return domain.RosterEntry{}, notFound(err, apperr.ErrNotActiveMember)
	}
	return e, nil
}

func (s *Store) ListActive(ctx context.Context, tripID string) ([]domain.RosterEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+rosterColumns+` FROM roster_entries
		WHERE trip_id=$1 AND status='active'
		ORDER BY joined_at, user_id
	`, tripID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	entries := []domain.RosterEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	if len(entries) == 0 {
		if _, err := s.GetTrip(ctx, tripID); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *Store) Join(ctx context.Context, entry domain.RosterEntry) (domain.RosterEntry, error) {
	var out domain.RosterEntry
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		e, err := joinTx(ctx, tx, entry)
		out = e
		return err
	})
	return out, err
}

// joinTx inserts or reactivates the entry under a share lock on the trip
// so a concurrent completion cannot interleave.
func joinTx(ctx context.Context, tx pgx.Tx, entry domain.RosterEntry) (domain.RosterEntry, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM trips WHERE id=$1 FOR SHARE`, entry.TripID).Scan(&status)
	if err != nil {
		return domain.RosterEntry{}, notFound(err, apperr.ErrTripNotFound)
	}
	if !domain.TripStatus(status).Joinable() {
		return domain.RosterEntry{}, apperr.ErrTripNotActive
	}

	cur, err := scanEntry(tx.QueryRow(ctx, `
		SELECT `+rosterColumns+` FROM roster_entries
		WHERE trip_id=$1 AND user_id=$2 FOR UPDATE
	`, entry.TripID, entry.UserID))
	switch {
	case err == nil && cur.Active():
		return domain.RosterEntry{}, apperr.ErrAlreadyMember
	case err == nil:
		return scanEntry(tx.QueryRow(ctx, `
			UPDATE roster_entries
			SET status='active', joined_at=$3, invite_code=$4, updated_at=$5
			WHERE trip_id=$1 AND user_id=$2
			RETURNING `+rosterColumns,
			entry.TripID, entry.UserID, entry.JoinedAt, nullable(entry.InviteCode), entry.UpdatedAt))
	case errors.Is(err, pgx.ErrNoRows):
		return scanEntry(tx.QueryRow(ctx, `
			INSERT INTO roster_entries (trip_id, user_id, is_leader, status, joined_at, invite_code, updated_at)
			VALUES ($1,$2,false,'active',$3,$4,$5)
			RETURNING `+rosterColumns,
			entry.TripID, entry.UserID, entry.JoinedAt, nullable(entry.InviteCode), entry.UpdatedAt))
	default:
		return domain.RosterEntry{}, err
	}
}

func (s *Store) Leave(ctx context.Context, tripID, userID string, at time.Time) (domain.RosterEntry, error) {
	e, err := scanEntry(s.db.QueryRow(ctx, `
		UPDATE roster_entries SET status='left', updated_at=$3
		WHERE trip_id=$1 AND user_id=$2 AND status='active'
		RETURNING `+rosterColumns, tripID, userID, at))
	if err != nil {
		return domain.RosterEntry{}, notFound(err, apperr.ErrNotActiveMember)
	}
	return e, nil
}

// TransferLeadership locks the leader row, then the target row, and moves
// the flag clear-then-set. A concurrent transfer blocks on the leader row
// and re-reads it after commit, so it sees the new leader and fails.
func (s *Store) TransferLeadership(ctx context.Context, tripID, fromUserID, toUserID string, at time.Time) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var leaderID string
		err := tx.QueryRow(ctx, `
			SELECT user_id FROM roster_entries
			WHERE trip_id=$1 AND is_leader FOR UPDATE
		`, tripID).Scan(&leaderID)
		if err != nil {
			return notFound(err, apperr.ErrNotLeader)
		}
		if leaderID != fromUserID {
			return apperr.ErrNotLeader
		}

		var targetStatus string
		err = tx.QueryRow(ctx, `
			SELECT status FROM roster_entries
			WHERE trip_id=$1 AND user_id=$2 FOR UPDATE
		`, tripID, toUserID).Scan(&targetStatus)
		if err != nil {
			return notFound(err, apperr.ErrTargetNotActiveMember)
		}
		if domain.MemberStatus(targetStatus) != domain.MemberActive {
			return apperr.ErrTargetNotActiveMember
		}
		if fromUserID == toUserID {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE roster_entries SET is_leader=false, updated_at=$3
			WHERE trip_id=$1 AND user_id=$2
		`, tripID, fromUserID, at); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE roster_entries SET is_leader=true, updated_at=$3
			WHERE trip_id=$1 AND user_id=$2
		`, tripID, toUserID, at)
		return err
	})
}
