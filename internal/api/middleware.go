package api

import (
	"log/slog"
	"strings"
	"time"

	"carepool/internal/database"
	"carepool/internal/fault"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// localUser is the fiber.Ctx locals key the authenticated user rides
// under between middleware and handlers.
const localUser = "user"

// requireAuth resolves the bearer token into a user. Handlers behind
// it may assume actor() succeeds.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return s.sendError(c, fault.New(fault.KindAuthorization, "missing bearer token"))
	}

	user, err := s.sessions.Authenticate(c.UserContext(), token)
	if err != nil {
		return s.sendError(c, err)
	}

	c.Locals(localUser, user)
	return c.Next()
}

func (s *Server) actor(c *fiber.Ctx) database.User {
	return c.Locals(localUser).(database.User)
}

func (s *Server) requestLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		s.logger.Info("request",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", c.Response().StatusCode()),
			slog.Duration("duration", time.Since(start)))
		return err
	}
}

// paramID parses a route parameter as a UUID.
func paramID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fault.Newf(fault.KindValidation, "invalid %s", name)
	}
	return id, nil
}

// parseBody decodes the JSON body into dst and runs struct validation.
func (s *Server) parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fault.Wrap(fault.KindValidation, "malformed request body", err)
	}
	return s.validate.Validate(dst)
}
