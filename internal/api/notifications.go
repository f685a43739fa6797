package api

import (
	"errors"
	"strconv"

	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/util"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) listNotifications(c *fiber.Ctx) error {
	unreadOnly := c.QueryBool("unread_only")

	limit := util.None[int]()
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return badRequest(c, "invalid limit")
		}
		limit = util.Some(n)
	}

	notifications, err := s.notifier.List(c.UserContext(), s.actor(c).ID, unreadOnly, limit)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"notifications": notifications})
}

func (s *Server) unreadCount(c *fiber.Ctx) error {
	count, err := s.notifier.CountUnread(c.UserContext(), s.actor(c).ID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

func (s *Server) markNotificationRead(c *fiber.Ctx) error {
	notificationID, err := paramID(c, "notificationID")
	if err != nil {
		return s.sendError(c, err)
	}

	notification, err := s.notifier.MarkRead(c.UserContext(), notificationID, s.actor(c).ID)
	if errors.Is(err, database.ErrNotificationNotFound) {
		return s.sendError(c, fault.New(fault.KindNotFound, "notification not found"))
	}
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(notification)
}

func (s *Server) markAllNotificationsRead(c *fiber.Ctx) error {
	count, err := s.notifier.MarkAllRead(c.UserContext(), s.actor(c).ID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"marked": count})
}
