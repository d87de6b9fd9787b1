package convoy

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

type TripReader interface {
	Get(ctx context.Context, tripID string) (domain.Trip, error)
}

type RosterReader interface {
	ListActive(ctx context.Context, tripID string) ([]domain.RosterEntry, error)
	Entry(ctx context.Context, tripID, userID string) (domain.RosterEntry, error)
}

type PresenceReader interface {
	Snapshot(tripID string) []domain.PresenceRecord
	Window() time.Duration
}

type response struct {
	TripID  string                `json:"trip_id"`
	Members []domain.MergedMember `json:"members"`
	Summary Summary               `json:"summary"`
}

// RegisterRoutes serves the merged member list of a trip to anyone holding
// a roster entry on it.
func RegisterRoutes(r fiber.Router, trips TripReader, roster RosterReader, presence PresenceReader, authMiddleware fiber.Handler) {
	r.Get("/:id/convoy", authMiddleware, func(c *fiber.Ctx) error {
		tripID := c.Params("id")
		userID, _ := c.Locals("user_id").(string)

		t, err := trips.Get(c.Context(), tripID)
		if err != nil {
			return err
		}
		if _, err := roster.Entry(c.Context(), tripID, userID); err != nil {
			return err
		}
		entries, err := roster.ListActive(c.Context(), tripID)
		if err != nil {
			return err
		}
		records := presence.Snapshot(tripID)

		var viewer *domain.Point
		for _, p := range records {
			if p.UserID == userID {
				viewer = &domain.Point{Lat: p.Lat, Lng: p.Lng}
			}
		}
		if viewer == nil && c.Query("lat") != "" && c.Query("lng") != "" {
			viewer = &domain.Point{Lat: c.QueryFloat("lat"), Lng: c.QueryFloat("lng")}
		}

		members := Merge(MergeInput{
			Roster:   entries,
			Presence: records,
			SelfID:   userID,
			Viewer:   viewer,
			Now:      time.Now().UTC(),
			Window:   presence.Window(),
		})
		return c.JSON(response{
			TripID:  tripID,
			Members: members,
			Summary: Summarize(t.Status, members),
		})
	})
}
