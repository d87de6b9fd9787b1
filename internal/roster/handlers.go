package roster

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts the roster endpoints under a trip group (/trips).
func RegisterRoutes(r fiber.Router, coord *Coordinator, authMiddleware fiber.Handler) {
	r.Get("/:id/roster", authMiddleware, func(c *fiber.Ctx) error {
		entries, err := coord.ListActive(c.Context(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(entries)
	})

	r.Post("/:id/roster/leave", authMiddleware, func(c *fiber.Ctx) error {
		entry, err := coord.Leave(c.Context(), c.Params("id"), userID(c))
		if err != nil {
			return err
		}
		return c.JSON(entry)
	})

	r.Post("/:id/roster/leader", authMiddleware, func(c *fiber.Ctx) error {
		var req transferRequest
		if err := c.BodyParser(&req); err != nil || req.UserID == "" {
			return fiber.NewError(fiber.StatusBadRequest, "user_id required")
		}
		if err := coord.TransferLeadership(c.Context(), c.Params("id"), userID(c), req.UserID); err != nil {
			return err
		}
		leader, err := coord.Leader(c.Context(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(leader)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
