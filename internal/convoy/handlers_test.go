package convoy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

type fakeTrips map[string]domain.Trip

func (f fakeTrips) Get(_ context.Context, id string) (domain.Trip, error) {
	t, ok := f[id]
	if !ok {
		return domain.Trip{}, apperr.ErrTripNotFound
	}
	return t, nil
}

type fakeRoster []domain.RosterEntry

func (f fakeRoster) ListActive(context.Context, string) ([]domain.RosterEntry, error) {
	return f, nil
}

func (f fakeRoster) Entry(_ context.Context, _, userID string) (domain.RosterEntry, error) {
	for _, e := range f {
		if e.UserID == userID {
			return e, nil
		}
	}
	return domain.RosterEntry{}, apperr.ErrNotActiveMember
}

type fakePresence []domain.PresenceRecord

func (f fakePresence) Snapshot(string) []domain.PresenceRecord { return f }
func (f fakePresence) Window() time.Duration                   { return 30 * time.Second }

func newTestApp() *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: apperr.ErrorHandler})
	auth := func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-User"))
		return c.Next()
	}
	now := time.Now().UTC()
	RegisterRoutes(app.Group("/trips"),
		fakeTrips{"trip-1": {ID: "trip-1", Status: domain.TripActive}},
		fakeRoster{entry("A", 0, true), entry("B", 1, false), entry("C", 2, false)},
		fakePresence{record("A", 52.0, 4.0, now), record("C", 52.001, 4.0, now)},
		auth,
	)
	return app
}

func TestConvoyHandler(t *testing.T) {
	app := newTestApp()
	req := httptest.NewRequest(http.MethodGet, "/trips/trip-1/convoy", nil)
	req.Header.Set("X-User", "A")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Members) != 2 || body.Members[0].UserID != "C" || body.Members[1].UserID != "B" {
		t.Fatalf("unexpected members %+v", body.Members)
	}
	if body.Members[0].DistanceFromViewerM == nil {
		t.Fatalf("expected distance from the caller's own presence")
	}
	if body.Summary.Connected != 1 || body.Summary.Total != 2 || body.Summary.TripStatus != domain.TripActive {
		t.Fatalf("unexpected summary %+v", body.Summary)
	}
}

func TestConvoyHandlerErrors(t *testing.T) {
	app := newTestApp()

	req := httptest.NewRequest(http.MethodGet, "/trips/trip-1/convoy", nil)
	req.Header.Set("X-User", "stranger")
	resp, _ := app.Test(req)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for non-member, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/trips/missing/convoy", nil)
	req.Header.Set("X-User", "A")
	resp, _ = app.Test(req)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
