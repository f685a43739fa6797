package api

import (
	"carepool/internal/session"

	"github.com/gofiber/fiber/v2"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

func (s *Server) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	user, err := s.sessions.Register(c.UserContext(), session.RegisterParams{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return s.sendError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
	})
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (s *Server) login(c *fiber.Ctx) error {
	var req loginRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	sess, user, err := s.sessions.Login(c.UserContext(), session.LoginParams{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return s.sendError(c, err)
	}

	return c.JSON(fiber.Map{
		"token":      sess.Token,
		"expires_at": sess.ExpiresAt,
		"user": fiber.Map{
			"id":    user.ID,
			"name":  user.Name,
			"email": user.Email,
		},
	})
}

func (s *Server) me(c *fiber.Ctx) error {
	user := s.actor(c)
	return c.JSON(fiber.Map{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
	})
}

type addChildRequest struct {
	Name string `json:"name" validate:"required,min=1,max=100"`
}

func (s *Server) addChild(c *fiber.Ctx) error {
	var req addChildRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	child, err := s.sessions.AddChild(c.UserContext(), s.actor(c).ID, session.AddChildParams{
		Name: req.Name,
	})
	if err != nil {
		return s.sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(child)
}

func (s *Server) listChildren(c *fiber.Ctx) error {
	children, err := s.sessions.ListChildren(c.UserContext(), s.actor(c).ID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"children": children})
}

type registerDeviceRequest struct {
	Token    string `json:"token" validate:"required"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
}

func (s *Server) registerDevice(c *fiber.Ctx) error {
	var req registerDeviceRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	device, err := s.sessions.RegisterDevice(c.UserContext(), s.actor(c).ID, session.RegisterDeviceParams{
		Token:    req.Token,
		Platform: req.Platform,
	})
	if err != nil {
		return s.sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(device)
}

type removeDeviceRequest struct {
	Token string `json:"token" validate:"required"`
}

func (s *Server) removeDevice(c *fiber.Ctx) error {
	var req removeDeviceRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	if err := s.sessions.RemoveDevice(c.UserContext(), s.actor(c).ID, req.Token); err != nil {
		return s.sendError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
