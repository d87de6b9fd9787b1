package invite

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/events"
)

const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 8
)

type Service struct {
	store   Store
	events  events.Publisher
	log     *slog.Logger
	ttl     time.Duration
	now     func() time.Time
	newCode func() (string, error)
	backoff apperr.BackoffFunc
}

func NewService(store Store, publisher events.Publisher, ttl time.Duration, log *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		store:   store,
		events:  publisher,
		log:     log,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		newCode: generateCode,
		backoff: apperr.DefaultBackoff,
	}
}

// Create issues an invite from an active member. A code collision is
// reported by the store as a stale write and retried with a new code.
func (s *Service) Create(ctx context.Context, tripID, inviterID, inviteeID string) (domain.Invite, error) {
	t, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return domain.Invite{}, err
	}
	if !t.Status.Joinable() {
		return domain.Invite{}, apperr.ErrTripNotActive
	}
	if err := s.requireActive(ctx, tripID, inviterID); err != nil {
		return domain.Invite{}, err
	}

	var inv domain.Invite
	err = apperr.Retry(ctx, s.backoff, func(ctx context.Context) error {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		now := s.now()
		inv = domain.Invite{
			Code:      code,
			TripID:    tripID,
			InviterID: inviterID,
			InviteeID: strings.TrimSpace(inviteeID),
			Status:    domain.InvitePending,
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
		}
		return s.store.CreateInvite(ctx, inv)
	})
	if err != nil {
		return domain.Invite{}, err
	}
	s.log.Info("invite_created", "trip_id", tripID, "inviter_id", inviterID, "expires_at", inv.ExpiresAt)
	return inv, nil
}

// Accept consumes the invite and adds userID to the roster.
func (s *Service) Accept(ctx context.Context, code, userID string) (Acceptance, error) {
	if userID == "" {
		return Acceptance{}, apperr.ErrForbidden
	}
	code = normalizeCode(code)
	var out Acceptance
	err := apperr.Retry(ctx, s.backoff, func(ctx context.Context) error {
		inv, entry, err := s.store.AcceptInvite(ctx, code, userID, s.now())
		out = Acceptance{Invite: inv, Entry: entry}
		return err
	})
	if err != nil {
		s.log.Info("invite_rejected", "code", code, "user_id", userID, "reason", apperr.CodeOf(err))
		return Acceptance{}, err
	}
	s.log.Info("invite_accepted", "trip_id", out.Invite.TripID, "user_id", userID)
	now := s.now()
	for _, ev := range []events.Event{
		{Type: events.InviteAccepted, TripID: out.Invite.TripID, UserID: userID, At: now},
		{Type: events.RosterChanged, TripID: out.Invite.TripID, UserID: userID, At: now},
	} {
		if err := s.events.Publish(ctx, ev); err != nil {
			s.log.Warn("invite_event_publish_failed", "type", ev.Type, "error", err)
		}
	}
	return out, nil
}

// List returns the trip's invites with lazy expiry applied.
func (s *Service) List(ctx context.Context, tripID, userID string) ([]domain.Invite, error) {
	if err := s.requireActive(ctx, tripID, userID); err != nil {
		return nil, err
	}
	invites, err := s.store.ListInvites(ctx, tripID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for i := range invites {
		invites[i].Status = invites[i].EffectiveStatus(now)
	}
	return invites, nil
}

func (s *Service) Get(ctx context.Context, code string) (domain.Invite, error) {
	inv, err := s.store.GetInvite(ctx, normalizeCode(code))
	if err != nil {
		return domain.Invite{}, err
	}
	inv.Status = inv.EffectiveStatus(s.now())
	return inv, nil
}

func (s *Service) requireActive(ctx context.Context, tripID, userID string) error {
	e, err := s.store.Entry(ctx, tripID, userID)
	if err != nil {
		return err
	}
	if !e.Active() {
		return apperr.ErrNotActiveMember
	}
	return nil
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
