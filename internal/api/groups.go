package api

import (
	"carepool/internal/group"

	"github.com/gofiber/fiber/v2"
)

type createGroupRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=100"`
	Description string `json:"description" validate:"max=500"`
}

func (s *Server) createGroup(c *fiber.Ctx) error {
	var req createGroupRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	g, err := s.groups.CreateGroup(c.UserContext(), s.actor(c).ID, group.CreateGroupParams{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		return s.sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(g)
}

func (s *Server) listGroups(c *fiber.Ctx) error {
	groups, err := s.groups.ListGroups(c.UserContext(), s.actor(c).ID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"groups": groups})
}

func (s *Server) getGroup(c *fiber.Ctx) error {
	groupID, err := paramID(c, "groupID")
	if err != nil {
		return s.sendError(c, err)
	}

	g, err := s.groups.GetGroup(c.UserContext(), s.actor(c).ID, groupID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(g)
}

func (s *Server) listMembers(c *fiber.Ctx) error {
	groupID, err := paramID(c, "groupID")
	if err != nil {
		return s.sendError(c, err)
	}

	members, err := s.groups.ListMembers(c.UserContext(), s.actor(c).ID, groupID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"members": members})
}

type inviteMemberRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"omitempty,oneof=member admin"`
}

func (s *Server) inviteMember(c *fiber.Ctx) error {
	groupID, err := paramID(c, "groupID")
	if err != nil {
		return s.sendError(c, err)
	}

	var req inviteMemberRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	invite, err := s.groups.Invite(c.UserContext(), s.actor(c).ID, groupID, group.InviteParams{
		Email: req.Email,
		Role:  req.Role,
	})
	if err != nil {
		return s.sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(invite)
}

func (s *Server) listGroupInvites(c *fiber.Ctx) error {
	invites, err := s.groups.ListInvites(c.UserContext(), s.actor(c).ID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"invites": invites})
}

func (s *Server) acceptGroupInvite(c *fiber.Ctx) error {
	inviteID, err := paramID(c, "inviteID")
	if err != nil {
		return s.sendError(c, err)
	}

	invite, err := s.groups.AcceptInvite(c.UserContext(), s.actor(c).ID, inviteID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(invite)
}

func (s *Server) declineGroupInvite(c *fiber.Ctx) error {
	inviteID, err := paramID(c, "inviteID")
	if err != nil {
		return s.sendError(c, err)
	}

	invite, err := s.groups.DeclineInvite(c.UserContext(), s.actor(c).ID, inviteID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(invite)
}
