package trip

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	create := func(plan bool) fiber.Handler {
		return func(c *fiber.Ctx) error {
			var req createRequest
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
			if req.Name == "" {
				return fiber.NewError(fiber.StatusBadRequest, "name required")
			}
			draft := domain.TripDraft{
				OwnerID:     userID(c),
				Name:        req.Name,
				Origin:      req.Origin,
				Destination: req.Destination,
			}
			var (
				t   domain.Trip
				err error
			)
			if plan {
				t, err = svc.Plan(c.Context(), draft)
			} else {
				t, err = svc.Start(c.Context(), draft)
			}
			if err != nil {
				return err
			}
			return c.Status(fiber.StatusCreated).JSON(svc.Describe(t))
		}
	}
	r.Post("/", authMiddleware, create(false))
	r.Post("/plan", authMiddleware, create(true))

	r.Get("/active", authMiddleware, func(c *fiber.Ctx) error {
		t, err := svc.Active(c.Context(), userID(c))
		if err != nil {
			return err
		}
		return c.JSON(svc.Describe(t))
	})

	r.Get("/:id", authMiddleware, func(c *fiber.Ctx) error {
		t, err := svc.Get(c.Context(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(svc.Describe(t))
	})

	actions := map[string]func(ctx context.Context, tripID, userID string) (domain.Trip, error){
		"activate": svc.Activate,
		"pause":    svc.Pause,
		"resume":   svc.Resume,
		"complete": svc.Complete,
		"cancel":   svc.Cancel,
	}
	for name, action := range actions {
		action := action
		r.Post("/:id/"+name, authMiddleware, func(c *fiber.Ctx) error {
			t, err := action(c.Context(), c.Params("id"), userID(c))
			if err != nil {
				return err
			}
			return c.JSON(svc.Describe(t))
		})
	}
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
