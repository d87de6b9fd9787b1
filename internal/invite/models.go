package invite

import (
	"context"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

// Store persists invites. AcceptInvite consumes the invite and joins the
// roster in one transaction; an invite found past expiry is flipped to
// expired and InviteExpired is returned with the roster untouched.
type Store interface {
	CreateInvite(ctx context.Context, inv domain.Invite) error
	GetInvite(ctx context.Context, code string) (domain.Invite, error)
	ListInvites(ctx context.Context, tripID string) ([]domain.Invite, error)
	AcceptInvite(ctx context.Context, code, userID string, now time.Time) (domain.Invite, domain.RosterEntry, error)
	GetTrip(ctx context.Context, id string) (domain.Trip, error)
	Entry(ctx context.Context, tripID, userID string) (domain.RosterEntry, error)
}

type createRequest struct {
	InviteeID string `json:"invitee_id"`
}

// Acceptance is returned to the user who consumed an invite.
type Acceptance struct {
	Invite domain.Invite      `json:"invite"`
	Entry  domain.RosterEntry `json:"entry"`
}
