package domain

import (
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
)

type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteExpired  InviteStatus = "expired"
)

type Invite struct {
	Code       string       `json:"code"`
	TripID     string       `json:"trip_id"`
	InviterID  string       `json:"inviter_id"`
	InviteeID  string       `json:"invitee_id,omitempty"`
	Status     InviteStatus `json:"status"`
	ExpiresAt  time.Time    `json:"expires_at"`
	AcceptedBy string       `json:"accepted_by,omitempty"`
	AcceptedAt *time.Time   `json:"accepted_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Expired reports whether the invite can no longer be accepted due to time.
func (i Invite) Expired(now time.Time) bool {
	return i.Status == InviteExpired || !now.Before(i.ExpiresAt)
}

// EffectiveStatus folds lazy expiry into the stored status.
func (i Invite) EffectiveStatus(now time.Time) InviteStatus {
	if i.Status == InvitePending && i.Expired(now) {
		return InviteExpired
	}
	return i.Status
}

// CheckAcceptable validates that userID may consume the invite at now.
func (i Invite) CheckAcceptable(userID string, now time.Time) error {
	switch {
	case i.Status == InviteAccepted:
		return apperr.ErrInviteAlreadyUsed
	case i.Expired(now):
		return apperr.ErrInviteExpired
	case i.Status != InvitePending:
		return apperr.ErrInviteAlreadyUsed
	case i.InviteeID != "" && i.InviteeID != userID:
		return apperr.New(apperr.CodeForbidden, "invite is addressed to another user")
	}
	return nil
}
