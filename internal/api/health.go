package api

import (
	"github.com/gofiber/fiber/v2"
)

func (s *Server) health(c *fiber.Ctx) error {
	if s.ping != nil {
		if err := s.ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "degraded",
			})
		}
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
