package api

import (
	"time"

	"carepool/internal/care"
	"carepool/internal/database"
	"carepool/internal/fault"
	"carepool/internal/util"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// dateLayout is the wire form of calendar dates.
const dateLayout = "2006-01-02"

func parseDate(s, field string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fault.Newf(fault.KindValidation, "%s must be a %s date", field, dateLayout)
	}
	return t, nil
}

// opt lifts a nullable JSON field into an optional value.
func opt[T any](p *T) util.Optional[T] {
	if p == nil {
		return util.None[T]()
	}
	return util.Some(*p)
}

func optDate(p *string, field string) (util.Optional[time.Time], error) {
	if p == nil {
		return util.None[time.Time](), nil
	}
	t, err := parseDate(*p, field)
	if err != nil {
		return util.None[time.Time](), err
	}
	return util.Some(t), nil
}

type createCareRequestRequest struct {
	GroupID   uuid.UUID `json:"group_id" validate:"required"`
	ChildID   uuid.UUID `json:"child_id" validate:"required"`
	Date      string    `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string    `json:"start_time" validate:"required,clock"`
	EndTime   string    `json:"end_time" validate:"required,clock"`
	Type      string    `json:"type" validate:"omitempty,oneof=simple reciprocal event"`
	Notes     *string   `json:"notes"`

	EventTitle       *string    `json:"event_title"`
	EventDescription *string    `json:"event_description"`
	EventLocation    *string    `json:"event_location"`
	RSVPDeadline     *time.Time `json:"rsvp_deadline"`

	ReciprocalChildID   *uuid.UUID `json:"reciprocal_child_id"`
	ReciprocalDate      *string    `json:"reciprocal_date" validate:"omitempty,datetime=2006-01-02"`
	ReciprocalStartTime *string    `json:"reciprocal_start_time" validate:"omitempty,clock"`
	ReciprocalEndTime   *string    `json:"reciprocal_end_time" validate:"omitempty,clock"`
}

func (s *Server) createRequest(c *fiber.Ctx) error {
	var req createCareRequestRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	date, err := parseDate(req.Date, "date")
	if err != nil {
		return s.sendError(c, err)
	}
	reciprocalDate, err := optDate(req.ReciprocalDate, "reciprocal_date")
	if err != nil {
		return s.sendError(c, err)
	}

	requestType := database.RequestTypeSimple
	if req.Type != "" {
		requestType = database.RequestType(req.Type)
	}

	created, err := s.care.CreateRequest(c.UserContext(), s.actor(c).ID, care.CreateRequestParams{
		GroupID:   req.GroupID,
		ChildID:   req.ChildID,
		Date:      date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Type:      requestType,
		Notes:     opt(req.Notes),

		EventTitle:       opt(req.EventTitle),
		EventDescription: opt(req.EventDescription),
		EventLocation:    opt(req.EventLocation),
		RSVPDeadline:     opt(req.RSVPDeadline),

		ReciprocalChildID:   opt(req.ReciprocalChildID),
		ReciprocalDate:      reciprocalDate,
		ReciprocalStartTime: opt(req.ReciprocalStartTime),
		ReciprocalEndTime:   opt(req.ReciprocalEndTime),
	})
	if err != nil {
		return s.sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (s *Server) listMyRequests(c *fiber.Ctx) error {
	requests, err := s.care.ListMyRequests(c.UserContext(), s.actor(c).ID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"requests": requests})
}

func (s *Server) listOpenRequests(c *fiber.Ctx) error {
	groupID, err := paramID(c, "groupID")
	if err != nil {
		return s.sendError(c, err)
	}

	requests, err := s.care.ListOpenRequests(c.UserContext(), s.actor(c).ID, groupID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(fiber.Map{"requests": requests})
}

func (s *Server) getRequest(c *fiber.Ctx) error {
	requestID, err := paramID(c, "requestID")
	if err != nil {
		return s.sendError(c, err)
	}

	detail, err := s.care.GetRequest(c.UserContext(), s.actor(c).ID, requestID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(detail)
}

type respondRequest struct {
	Type  string  `json:"type" validate:"required,oneof=offer decline"`
	Notes *string `json:"notes"`

	ReciprocalChildID   *uuid.UUID `json:"reciprocal_child_id"`
	ReciprocalDate      *string    `json:"reciprocal_date" validate:"omitempty,datetime=2006-01-02"`
	ReciprocalStartTime *string    `json:"reciprocal_start_time" validate:"omitempty,clock"`
	ReciprocalEndTime   *string    `json:"reciprocal_end_time" validate:"omitempty,clock"`
}

func (s *Server) respond(c *fiber.Ctx) error {
	requestID, err := paramID(c, "requestID")
	if err != nil {
		return s.sendError(c, err)
	}

	var req respondRequest
	if err := s.parseBody(c, &req); err != nil {
		return s.sendError(c, err)
	}

	reciprocalDate, err := optDate(req.ReciprocalDate, "reciprocal_date")
	if err != nil {
		return s.sendError(c, err)
	}

	// The wire speaks "offer"; storage speaks "accept".
	responseType := database.ResponseTypeAccept
	if req.Type == "decline" {
		responseType = database.ResponseTypeDecline
	}

	response, err := s.care.Respond(c.UserContext(), s.actor(c).ID, requestID, care.RespondParams{
		Type:  responseType,
		Notes: opt(req.Notes),

		ReciprocalChildID:   opt(req.ReciprocalChildID),
		ReciprocalDate:      reciprocalDate,
		ReciprocalStartTime: opt(req.ReciprocalStartTime),
		ReciprocalEndTime:   opt(req.ReciprocalEndTime),
	})
	if err != nil {
		return s.sendError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(response)
}

func (s *Server) acceptResponse(c *fiber.Ctx) error {
	requestID, err := paramID(c, "requestID")
	if err != nil {
		return s.sendError(c, err)
	}
	responseID, err := paramID(c, "responseID")
	if err != nil {
		return s.sendError(c, err)
	}

	result, err := s.care.AcceptResponse(c.UserContext(), s.actor(c).ID, requestID, responseID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(result)
}

func (s *Server) declineResponse(c *fiber.Ctx) error {
	requestID, err := paramID(c, "requestID")
	if err != nil {
		return s.sendError(c, err)
	}
	responseID, err := paramID(c, "responseID")
	if err != nil {
		return s.sendError(c, err)
	}

	response, err := s.care.DeclineResponse(c.UserContext(), s.actor(c).ID, requestID, responseID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(response)
}

func (s *Server) cancelRequest(c *fiber.Ctx) error {
	requestID, err := paramID(c, "requestID")
	if err != nil {
		return s.sendError(c, err)
	}

	request, err := s.care.CancelRequest(c.UserContext(), s.actor(c).ID, requestID)
	if err != nil {
		return s.sendError(c, err)
	}
	return c.JSON(request)
}
