package invite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/events"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/store/memory"
)

var base = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store, *time.Time) {
	t.Helper()
	store := memory.New()
	err := store.CreateTrip(context.Background(),
		domain.Trip{ID: "trip-1", OwnerID: "A", Name: "convoy", Status: domain.TripActive, CreatedAt: base, UpdatedAt: base, Version: 1},
		domain.RosterEntry{TripID: "trip-1", UserID: "A", IsLeader: true, Status: domain.MemberActive, JoinedAt: base, UpdatedAt: base},
	)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	now := base
	svc := NewService(store, events.Nop{}, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return now }
	return svc, store, &now
}

func TestAcceptInviteJoinsRoster(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "trip-1", "A", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(inv.Code) != codeLength || inv.Status != domain.InvitePending {
		t.Fatalf("unexpected invite %+v", inv)
	}

	out, err := svc.Accept(ctx, " "+inv.Code+" ", "B")
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if out.Invite.Status != domain.InviteAccepted || out.Entry.InviteCode != inv.Code {
		t.Fatalf("unexpected acceptance %+v", out)
	}
	roster, _ := store.ListActive(ctx, "trip-1")
	if len(roster) != 2 || roster[1].UserID != "B" || roster[1].IsLeader {
		t.Fatalf("expected B appended as member, got %+v", roster)
	}

	if _, err := svc.Accept(ctx, inv.Code, "C"); !errors.Is(err, apperr.ErrInviteAlreadyUsed) {
		t.Fatalf("expected already used, got %v", err)
	}
}

func TestExpiredInviteLeavesRosterUnchanged(t *testing.T) {
	svc, store, now := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Create(ctx, "trip-1", "A", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	*now = inv.ExpiresAt.Add(time.Second)

	if _, err := svc.Accept(ctx, inv.Code, "B"); !errors.Is(err, apperr.ErrInviteExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	roster, _ := store.ListActive(ctx, "trip-1")
	if len(roster) != 1 {
		t.Fatalf("expected roster unchanged, got %+v", roster)
	}
	stored, _ := store.GetInvite(ctx, inv.Code)
	if stored.Status != domain.InviteExpired {
		t.Fatalf("expected lazy expiry persisted, got %s", stored.Status)
	}
	if _, err := svc.Accept(ctx, inv.Code, "B"); !errors.Is(err, apperr.ErrInviteExpired) {
		t.Fatalf("expected expired on retry, got %v", err)
	}
}

func TestCreateRetriesCodeCollision(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	codes := []string{"AAAAAAAA", "AAAAAAAA", "BBBBBBBB"}
	svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	first, err := svc.Create(ctx, "trip-1", "A", "")
	if err != nil || first.Code != "AAAAAAAA" {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.Create(ctx, "trip-1", "A", "")
	if err != nil || second.Code != "BBBBBBBB" {
		t.Fatalf("expected regenerated code, got %q %v", second.Code, err)
	}
}

func TestCreateAndListRules(t *testing.T) {
	svc, _, now := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "trip-1", "stranger", ""); !errors.Is(err, apperr.ErrNotActiveMember) {
		t.Fatalf("expected non-member rejected, got %v", err)
	}
	if _, err := svc.Create(ctx, "missing", "A", ""); !errors.Is(err, apperr.ErrTripNotFound) {
		t.Fatalf("expected trip not found, got %v", err)
	}

	targeted, _ := svc.Create(ctx, "trip-1", "A", "C")
	if _, err := svc.Accept(ctx, targeted.Code, "B"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected targeted invite rejected for other user, got %v", err)
	}

	*now = now.Add(2 * time.Hour)
	list, err := svc.List(ctx, "trip-1", "A")
	if err != nil || len(list) != 1 || list[0].Status != domain.InviteExpired {
		t.Fatalf("expected lazily expired listing, got %+v %v", list, err)
	}
	if _, err := svc.Get(ctx, "nope"); !errors.Is(err, apperr.ErrInviteNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGenerateCodeAlphabet(t *testing.T) {
	code, err := generateCode()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for _, r := range code {
		if !containsRune(codeAlphabet, r) {
			t.Fatalf("unexpected rune %q in %s", r, code)
		}
	}
}

func containsRune(s string, r rune) bool {
	for _, c := range s {
		if c == r {
			return true
		}
	}
	return false
}
