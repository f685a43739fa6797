package api

import (
	"errors"
	"log/slog"

	"carepool/internal/fault"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// errorBody is the JSON envelope every failed request gets.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusOf(kind fault.Kind) int {
	switch kind {
	case fault.KindValidation:
		return fiber.StatusBadRequest
	case fault.KindAuthorization:
		return fiber.StatusForbidden
	case fault.KindConflict:
		return fiber.StatusConflict
	case fault.KindNotFound:
		return fiber.StatusNotFound
	case fault.KindDependency:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

// sendError maps a fault kind onto an HTTP status. Anything without a
// kind is an internal error and its detail stays out of the response.
func (s *Server) sendError(c *fiber.Ctx, err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		status := statusOf(fe.Kind)
		// Authorization failures on authentication itself are 401s.
		if fe.Kind == fault.KindAuthorization && c.Locals(localUser) == nil {
			status = fiber.StatusUnauthorized
		}
		return c.Status(status).JSON(errorBody{Error: errorDetail{
			Code:    fe.Kind.String(),
			Message: fe.Msg,
		}})
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: errorDetail{
			Code:    fault.KindValidation.String(),
			Message: ve.Error(),
		}})
	}

	s.logger.Error("request failed",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.String("error", err.Error()))
	return c.Status(fiber.StatusInternalServerError).JSON(errorBody{Error: errorDetail{
		Code:    "internal",
		Message: "something went wrong",
	}})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(errorBody{Error: errorDetail{
		Code:    fault.KindValidation.String(),
		Message: message,
	}})
}
