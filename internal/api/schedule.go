package api

import (
	"time"

	"carepool/internal/schedule"
	"carepool/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func (s *Server) calendar(c *fiber.Ctx) error {
	groupID := util.None[uuid.UUID]()
	if raw := c.Query("group_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return badRequest(c, "invalid group_id")
		}
		groupID = util.Some(id)
	}

	from := time.Now().Truncate(24 * time.Hour)
	if raw := c.Query("from"); raw != "" {
		parsed, err := parseDate(raw, "from")
		if err != nil {
			return s.sendError(c, err)
		}
		from = parsed
	}

	blocks, err := s.schedule.Calendar(c.UserContext(), s.actor(c).ID, groupID, from)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"blocks": blocks})
}

func (s *Server) getBlock(c *fiber.Ctx) error {
	blockID, err := paramID(c, "blockID")
	if err != nil {
		return s.sendError(c, err)
	}

	detail, err := s.schedule.GetBlock(c.UserContext(), s.actor(c).ID, blockID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(detail)
}

func (s *Server) cancelBlock(c *fiber.Ctx) error {
	blockID, err := paramID(c, "blockID")
	if err != nil {
		return s.sendError(c, err)
	}

	block, err := s.schedule.CancelBlock(c.UserContext(), s.actor(c).ID, blockID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(block)
}

type rescheduleRequest struct {
	ToDate  string  `json:"to_date" validate:"required,datetime=2006-01-02"`
	ToStart string  `json:"to_start" validate:"required,clock"`
	ToEnd   string  `json:"to_end" validate:"required,clock"`
	Notes   *string `json:"notes"`
}

func (r rescheduleRequest) params() (schedule.RescheduleParams, error) {
	date, err := parseDate(r.ToDate, "to_date")
	if err != nil {
		return schedule.RescheduleParams{}, err
	}
	return schedule.RescheduleParams{
		ToDate:  date,
		ToStart: r.ToStart,
		ToEnd:   r.ToEnd,
		Notes:   opt(r.Notes),
	}, nil
}

func (s *Server) requestReschedule(c *fiber.Ctx) error {
	blockID, err := paramID(c, "blockID")
	if err != nil {
		return s.sendError(c, err)
	}

	var req rescheduleRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}
	params, err := req.params()
	if err != nil {
		return s.sendError(c, err)
	}

	reschedule, err := s.schedule.RequestReschedule(c.UserContext(), s.actor(c).ID, blockID, params)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(reschedule)
}

func (s *Server) listReschedules(c *fiber.Ctx) error {
	reschedules, err := s.schedule.ListReschedules(c.UserContext(), s.actor(c).ID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"reschedules": reschedules})
}

func (s *Server) listArrangements(c *fiber.Ctx) error {
	rescheduleID, err := paramID(c, "rescheduleID")
	if err != nil {
		return s.sendError(c, err)
	}

	arrangements, err := s.schedule.ListArrangements(c.UserContext(), s.actor(c).ID, rescheduleID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"arrangements": arrangements})
}

func (s *Server) acceptReschedule(c *fiber.Ctx) error {
	rescheduleID, err := paramID(c, "rescheduleID")
	if err != nil {
		return s.sendError(c, err)
	}

	result, err := s.schedule.AcceptReschedule(c.UserContext(), s.actor(c).ID, rescheduleID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(result)
}

type declineRescheduleRequest struct {
	CancelArrangementID *uuid.UUID `json:"cancel_arrangement_id"`
}

func (s *Server) declineReschedule(c *fiber.Ctx) error {
	rescheduleID, err := paramID(c, "rescheduleID")
	if err != nil {
		return s.sendError(c, err)
	}

	// The body is optional; without a selection the default
	// cancellation target applies.
	var req declineRescheduleRequest
	if len(c.Body()) > 0 {
		if err := s.parseBody(c, &req); err != nil {
			return s.sendError(c, err)
		}
	}

	reschedule, err := s.schedule.DeclineReschedule(c.UserContext(), s.actor(c).ID, rescheduleID, schedule.DeclineRescheduleParams{
		CancelArrangementID: opt(req.CancelArrangementID),
	})
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(reschedule)
}

type counterProposeRequest struct {
	rescheduleRequest
	CancelArrangementID *uuid.UUID `json:"cancel_arrangement_id"`
}

func (s *Server) counterPropose(c *fiber.Ctx) error {
	rescheduleID, err := paramID(c, "rescheduleID")
	if err != nil {
		return s.sendError(c, err)
	}

	var req counterProposeRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}
	params, err := req.params()
	if err != nil {
		return s.sendError(c, err)
	}

	reschedule, err := s.schedule.CounterPropose(c.UserContext(), s.actor(c).ID, rescheduleID, schedule.CounterProposeParams{
		RescheduleParams:    params,
		CancelArrangementID: opt(req.CancelArrangementID),
	})
	if err != nil {
		return s.sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(reschedule)
}
