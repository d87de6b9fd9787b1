package invite

import "github.com/gofiber/fiber/v2"

// RegisterTripRoutes mounts invite issuing and listing under /trips.
func RegisterTripRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/:id/invites", authMiddleware, func(c *fiber.Ctx) error {
		var req createRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, err.Error())
			}
		}
		inv, err := svc.Create(c.Context(), c.Params("id"), userID(c), req.InviteeID)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(inv)
	})

	r.Get("/:id/invites", authMiddleware, func(c *fiber.Ctx) error {
		invites, err := svc.List(c.Context(), c.Params("id"), userID(c))
		if err != nil {
			return err
		}
		return c.JSON(invites)
	})
}

// RegisterRoutes mounts invite lookup and acceptance under /invites.
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Get("/:code", authMiddleware, func(c *fiber.Ctx) error {
		inv, err := svc.Get(c.Context(), c.Params("code"))
		if err != nil {
			return err
		}
		return c.JSON(inv)
	})

	r.Post("/:code/accept", authMiddleware, func(c *fiber.Ctx) error {
		out, err := svc.Accept(c.Context(), c.Params("code"), userID(c))
		if err != nil {
			return err
		}
		return c.JSON(out)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
