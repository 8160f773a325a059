package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/hub"
	"github.com/fathima-sithara/realtime-service/internal/presence"
	"github.com/fathima-sithara/realtime-service/internal/ws"
)

type StatsSource interface {
	Stats(ctx context.Context) (hub.Stats, error)
}

type PresenceReader interface {
	Get(ctx context.Context, userID int64) (presence.Presence, error)
}

type TokenValidator interface {
	Validate(token string) (string, error)
}

// Deps wires the HTTP surface. Presence, Auth and Metrics are optional.
type Deps struct {
	Hub      StatsSource
	WS       *ws.Handler
	Presence PresenceReader
	Auth     TokenValidator
	Metrics  http.Handler
	Log      *zap.SugaredLogger
}

type Server struct {
	deps Deps
}

func NewServer(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})
	app.Use(recover.New())
	app.Use(RequestLogger(d.Log))

	s := &Server{deps: d}

	app.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })
	if d.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(d.Metrics))
	}

	app.Get("/ws", s.upgrade, websocket.New(func(conn *websocket.Conn) {
		d.WS.Serve(conn)
	}))

	v1 := app.Group("/v1")
	v1.Get("/presence/:user_id", s.getPresence)
	v1.Get("/stats", s.getStats)

	return app
}

// upgrade rejects non-websocket requests and, when a validator is configured, requests
// without a valid ?token=. The token only gates the transport; identity is still bound
// by the auth event.
func (s *Server) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if s.deps.Auth != nil {
		sub, err := s.deps.Auth.Validate(c.Query("token"))
		if err != nil {
			s.deps.Log.Debugw("websocket upgrade rejected", "ip", c.IP(), "err", err)
			return fiber.ErrUnauthorized
		}
		s.deps.Log.Infow("websocket upgrade admitted", "ip", c.IP(), "subject", sub)
	}
	return c.Next()
}

func (s *Server) getPresence(c *fiber.Ctx) error {
	if s.deps.Presence == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "presence disabled")
	}
	userID, err := strconv.ParseInt(c.Params("user_id"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "user_id must be an integer")
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	p, err := s.deps.Presence.Get(ctx, userID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"user_id":   userID,
		"online":    p.Online(),
		"status":    p.Status,
		"last_seen": p.LastSeen,
	})
}

func (s *Server) getStats(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	st, err := s.deps.Hub.Stats(ctx)
	if err != nil {
		return err
	}
	return c.JSON(st)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		code = fe.Code
	case errors.Is(err, apperr.ErrNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, apperr.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		code = fiber.StatusServiceUnavailable
	}
	msg := http.StatusText(code)
	if fe != nil {
		msg = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
