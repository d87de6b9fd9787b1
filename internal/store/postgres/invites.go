package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

func (s *Store) CreateInvite(ctx context.Context, inv domain.Invite) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO invites (code, trip_id, inviter_id, invitee_id, status, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, inv.Code, inv.TripID, inv.InviterID, nullable(inv.InviteeID), string(inv.Status), inv.ExpiresAt, inv.CreatedAt)
	return classify(err)
}

func (s *Store) GetInvite(ctx context.Context, code string) (domain.Invite, error) {
	inv, err := scanInvite(s.db.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invites WHERE code=$1`, code))
	if err != nil {
		return domain.Invite{}, notFound(err, apperr.ErrInviteNotFound)
	}
	return inv, nil
}

func (s *Store) ListInvites(ctx context.Context, tripID string) ([]domain.Invite, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+inviteColumns+` FROM invites WHERE trip_id=$1 ORDER BY created_at
	`, tripID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	invites := []domain.Invite{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, classify(err)
		}
		invites = append(invites, inv)
	}
	return invites, classify(rows.Err())
}

// AcceptInvite locks the invite row, validates it, joins the roster and
// marks the invite accepted in one transaction. A lapsed pending invite is
// flipped to expired and committed before InviteExpired is returned.
func (s *Store) AcceptInvite(ctx context.Context, code, userID string, now time.Time) (domain.Invite, domain.RosterEntry, error) {
	var (
		inv   domain.Invite
		entry domain.RosterEntry
	)
	var rejected error
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		inv, err = scanInvite(tx.QueryRow(ctx, `SELECT `+inviteColumns+` FROM invites WHERE code=$1 FOR UPDATE`, code))
		if err != nil {
			return notFound(err, apperr.ErrInviteNotFound)
		}
		if err := inv.CheckAcceptable(userID, now); err != nil {
			if inv.Status == domain.InvitePending && inv.Expired(now) {
				rejected = err
				_, err := tx.Exec(ctx, `UPDATE invites SET status='expired' WHERE code=$1`, code)
				return err
			}
			return err
		}

		entry, err = joinTx(ctx, tx, domain.RosterEntry{
			TripID:     inv.TripID,
			UserID:     userID,
			Status:     domain.MemberActive,
			JoinedAt:   now,
			InviteCode: code,
			UpdatedAt:  now,
		})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE invites SET status='accepted', accepted_by=$2, accepted_at=$3
			WHERE code=$1
		`, code, userID, now); err != nil {
			return err
		}
		at := now
		inv.Status = domain.InviteAccepted
		inv.AcceptedBy = userID
		inv.AcceptedAt = &at
		return nil
	})
	if err == nil && rejected != nil {
		err = rejected
	}
	if err != nil {
		return domain.Invite{}, domain.RosterEntry{}, err
	}
	return inv, entry, nil
}
