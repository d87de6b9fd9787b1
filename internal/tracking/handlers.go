package tracking

import "github.com/gofiber/fiber/v2"

// RegisterRoutes mounts position endpoints under a trip group (/trips).
func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/:id/positions", authMiddleware, func(c *fiber.Ctx) error {
		var req Batch
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		result, err := svc.AppendBatch(c.Context(), c.Params("id"), userID(c), req)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(result)
	})

	r.Get("/:id/positions", authMiddleware, func(c *fiber.Ctx) error {
		target := c.Query("user_id", userID(c))
		points, err := svc.Positions(c.Context(), c.Params("id"), target)
		if err != nil {
			return err
		}
		return c.JSON(points)
	})

	r.Get("/:id/summary", authMiddleware, func(c *fiber.Ctx) error {
		summary, err := svc.Summary(c.Context(), c.Params("id"))
		if err != nil {
			return err
		}
		return c.JSON(summary)
	})
}

func userID(c *fiber.Ctx) string {
	id, _ := c.Locals("user_id").(string)
	return id
}
