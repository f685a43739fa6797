package api

import (
	"carepool/internal/database"
	"carepool/internal/openblock"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type openBlockInvitee struct {
	ParentID            uuid.UUID `json:"parent_id" validate:"required"`
	ReciprocalDate      string    `json:"reciprocal_date" validate:"required,datetime=2006-01-02"`
	ReciprocalStartTime string    `json:"reciprocal_start_time" validate:"required,clock"`
	ReciprocalEndTime   string    `json:"reciprocal_end_time" validate:"required,clock"`
}

type openBlockRequest struct {
	Slots    int                `json:"slots" validate:"omitempty,min=1,max=10"`
	Notes    *string            `json:"notes"`
	Invitees []openBlockInvitee `json:"invitees" validate:"required,min=1,dive"`
}

func (s *Server) openBlock(c *fiber.Ctx) error {
	blockID, err := paramID(c, "blockID")
	if err != nil {
		return s.sendError(c, err)
	}

	var req openBlockRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	invitees := make([]database.OpenBlockInviteeParams, 0, len(req.Invitees))
	for _, invitee := range req.Invitees {
		date, err := parseDate(invitee.ReciprocalDate, "reciprocal_date")
		if err != nil {
			return s.sendError(c, err)
		}
		invitees = append(invitees, database.OpenBlockInviteeParams{
			InvitedParentID:     invitee.ParentID,
			ReciprocalDate:      date,
			ReciprocalStartTime: invitee.ReciprocalStartTime,
			ReciprocalEndTime:   invitee.ReciprocalEndTime,
		})
	}

	result, err := s.openBlocks.Open(c.UserContext(), s.actor(c).ID, blockID, openblock.OpenParams{
		Slots:    req.Slots,
		Notes:    opt(req.Notes),
		Invitees: invitees,
	})
	if err != nil {
		return s.sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}

func (s *Server) listInvitations(c *fiber.Ctx) error {
	invitations, err := s.openBlocks.ListInvitations(c.UserContext(), s.actor(c).ID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"invitations": invitations})
}

type acceptInvitationRequest struct {
	ChildID uuid.UUID `json:"child_id" validate:"required"`
}

func (s *Server) acceptInvitation(c *fiber.Ctx) error {
	invitationID, err := paramID(c, "invitationID")
	if err != nil {
		return s.sendError(c, err)
	}

	var req acceptInvitationRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	result, err := s.openBlocks.Accept(c.UserContext(), s.actor(c).ID, invitationID, req.ChildID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(result)
}

func (s *Server) declineInvitation(c *fiber.Ctx) error {
	invitationID, err := paramID(c, "invitationID")
	if err != nil {
		return s.sendError(c, err)
	}

	invitation, err := s.openBlocks.Decline(c.UserContext(), s.actor(c).ID, invitationID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(invitation)
}
