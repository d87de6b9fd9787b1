package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/store/memory"
)

func TestRosterHandlers(t *testing.T) {
	store := memory.New()
	seedTrip(t, store, "trip-1", "A", domain.TripActive)
	coord, _ := newCoordinator(store)
	if _, err := coord.Join(context.Background(), "trip-1", "B", ""); err != nil {
		t.Fatalf("join: %v", err)
	}

	app := fiber.New(fiber.Config{ErrorHandler: apperr.ErrorHandler})
	auth := func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-User"))
		return c.Next()
	}
	RegisterRoutes(app.Group("/trips"), coord, auth)

	call := func(method, path, user string, body any) *http.Response {
		var buf bytes.Buffer
		if body != nil {
			_ = json.NewEncoder(&buf).Encode(body)
		}
		req := httptest.NewRequest(method, path, &buf)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		return resp
	}

	resp := call(http.MethodGet, "/trips/trip-1/roster", "A", nil)
	var entries []domain.RosterEntry
	_ = json.NewDecoder(resp.Body).Decode(&entries)
	if resp.StatusCode != http.StatusOK || len(entries) != 2 {
		t.Fatalf("roster: %d %+v", resp.StatusCode, entries)
	}

	resp = call(http.MethodPost, "/trips/trip-1/roster/leader", "B", map[string]string{"user_id": "A"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden for non-leader transfer, got %d", resp.StatusCode)
	}

	resp = call(http.MethodPost, "/trips/trip-1/roster/leader", "A", map[string]string{"user_id": "B"})
	var leader domain.RosterEntry
	_ = json.NewDecoder(resp.Body).Decode(&leader)
	if resp.StatusCode != http.StatusOK || leader.UserID != "B" {
		t.Fatalf("transfer: %d %+v", resp.StatusCode, leader)
	}

	resp = call(http.MethodPost, "/trips/trip-1/roster/leader", "B", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", resp.StatusCode)
	}

	resp = call(http.MethodPost, "/trips/trip-1/roster/leave", "A", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave: %d", resp.StatusCode)
	}
	resp = call(http.MethodPost, "/trips/trip-1/roster/leave", "A", nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 leaving twice, got %d", resp.StatusCode)
	}
}
