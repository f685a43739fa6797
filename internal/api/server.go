// Package api exposes the coordination lifecycle over HTTP. Handlers
// translate between JSON bodies and manager calls; every rule lives in
// the managers, not here.
package api

import (
	"context"
	"log/slog"

	"carepool/internal/care"
	"carepool/internal/config"
	"carepool/internal/group"
	"carepool/internal/notify"
	"carepool/internal/openblock"
	"carepool/internal/schedule"
	"carepool/internal/session"
	"carepool/internal/telemetry"
	"carepool/internal/validator"

	"github.com/gofiber/fiber/v2"
)

type Server struct {
	app      *fiber.App
	logger   *slog.Logger
	validate *validator.Validator

	sessions   *session.Manager
	groups     *group.Manager
	care       *care.Manager
	schedule   *schedule.Manager
	openBlocks *openblock.Manager
	notifier   *notify.Notifier

	ping func(ctx context.Context) error
}

type Deps struct {
	Logger     *slog.Logger
	Sessions   *session.Manager
	Groups     *group.Manager
	Care       *care.Manager
	Schedule   *schedule.Manager
	OpenBlocks *openblock.Manager
	Notifier   *notify.Notifier
	Telemetry  *telemetry.Telemetry

	// Ping reports whether the backing store is reachable; the health
	// endpoint surfaces its answer.
	Ping func(ctx context.Context) error
}

func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	s := &Server{
		logger:     deps.Logger,
		validate:   validator.New(),
		sessions:   deps.Sessions,
		groups:     deps.Groups,
		care:       deps.Care,
		schedule:   deps.Schedule,
		openBlocks: deps.OpenBlocks,
		notifier:   deps.Notifier,
		ping:       deps.Ping,
	}

	app := fiber.New(fiber.Config{
		AppName:               "carepool",
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return s.sendError(c, err)
		},
	})

	if deps.Telemetry != nil {
		app.Use(deps.Telemetry.FiberMiddleware())
	}
	app.Use(s.requestLogger())

	s.app = app
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)

	v1 := s.app.Group("/api/v1")

	auth := v1.Group("/auth")
	auth.Post("/register", s.register)
	auth.Post("/login", s.login)

	authed := v1.Group("", s.requireAuth)

	authed.Get("/me", s.me)
	authed.Post("/me/children", s.addChild)
	authed.Get("/me/children", s.listChildren)
	authed.Post("/me/devices", s.registerDevice)
	authed.Delete("/me/devices", s.removeDevice)

	authed.Post("/groups", s.createGroup)
	authed.Get("/groups", s.listGroups)
	authed.Get("/groups/:groupID", s.getGroup)
	authed.Get("/groups/:groupID/members", s.listMembers)
	authed.Post("/groups/:groupID/invites", s.inviteMember)
	authed.Get("/invites", s.listGroupInvites)
	authed.Post("/invites/:inviteID/accept", s.acceptGroupInvite)
	authed.Post("/invites/:inviteID/decline", s.declineGroupInvite)

	authed.Post("/requests", s.createRequest)
	authed.Get("/requests", s.listMyRequests)
	authed.Get("/groups/:groupID/requests", s.listOpenRequests)
	authed.Get("/requests/:requestID", s.getRequest)
	authed.Post("/requests/:requestID/responses", s.respond)
	authed.Post("/requests/:requestID/responses/:responseID/accept", s.acceptResponse)
	authed.Post("/requests/:requestID/responses/:responseID/decline", s.declineResponse)
	authed.Post("/requests/:requestID/cancel", s.cancelRequest)

	authed.Get("/calendar", s.calendar)
	authed.Get("/blocks/:blockID", s.getBlock)
	authed.Post("/blocks/:blockID/cancel", s.cancelBlock)
	authed.Post("/blocks/:blockID/reschedules", s.requestReschedule)
	authed.Get("/reschedules", s.listReschedules)
	authed.Get("/reschedules/:rescheduleID/arrangements", s.listArrangements)
	authed.Post("/reschedules/:rescheduleID/accept", s.acceptReschedule)
	authed.Post("/reschedules/:rescheduleID/decline", s.declineReschedule)
	authed.Post("/reschedules/:rescheduleID/counter", s.counterPropose)

	authed.Post("/blocks/:blockID/open", s.openBlock)
	authed.Get("/invitations", s.listInvitations)
	authed.Post("/invitations/:invitationID/accept", s.acceptInvitation)
	authed.Post("/invitations/:invitationID/decline", s.declineInvitation)

	authed.Get("/notifications", s.listNotifications)
	authed.Get("/notifications/unread-count", s.unreadCount)
	authed.Post("/notifications/:notificationID/read", s.markNotificationRead)
	authed.Post("/notifications/read-all", s.markAllNotificationsRead)
}

// App exposes the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.logger.Info("http server listening", slog.String("addr", addr))
	return s.app.Listen(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
