package server

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/leapkore-12/journeys-tribe-sub000/internal/apperr"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/auth"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/config"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/convoy"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/domain"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/events"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/invite"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/presence"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/roster"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/tracking"
	"github.com/leapkore-12/journeys-tribe-sub000/internal/trip"
)

// Store is everything the API needs from persistence. Both the postgres and
// the memory store satisfy it.
type Store interface {
	trip.Store
	roster.Store
	tracking.Store
	invite.Store
	Ping(ctx context.Context) error
}

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	Store    Store
	Redis    *redis.Client
	Presence *presence.Hub
	Log      *slog.Logger

	Trips    *trip.Service
	Roster   *roster.Coordinator
	Tracking *tracking.Service
	Invites  *invite.Service
}

// NewServer wires the services onto st. Lifecycle and roster events go to
// the presence hub and to extra, when set.
func NewServer(cfg config.Config, st Store, redisClient *redis.Client, extra events.Publisher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	app := fiber.New(fiber.Config{ErrorHandler: apperr.ErrorHandler})
	app.Use(recover.New())
	app.Use(logger.New())

	hub := presence.NewHub(redisClient, log, cfg.StalenessWindow)
	publisher := events.Fanout{hub}
	if extra != nil {
		publisher = append(publisher, extra)
	}

	s := &Server{
		App:      app,
		Cfg:      cfg,
		Store:    st,
		Redis:    redisClient,
		Presence: hub,
		Log:      log,
		Trips:    trip.NewService(st, publisher, log),
		Roster:   roster.NewCoordinator(st, publisher, log),
		Tracking: tracking.NewService(st, log),
		Invites:  invite.NewService(st, publisher, cfg.InviteTTL, log),
	}

	registerRoutes(s)
	return s
}

// Close stops the presence bridge.
func (s *Server) Close() {
	s.Presence.Close()
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		if s.Store == nil {
			return c.JSON(fiber.Map{"status": "ok"})
		}
		if err := s.Store.Ping(c.Context()); err != nil {
			return apperr.Unavailable(err)
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	trips := s.App.Group("/trips")
	trip.RegisterRoutes(trips, s.Trips, jwtMiddleware)
	roster.RegisterRoutes(trips, s.Roster, jwtMiddleware)
	tracking.RegisterRoutes(trips, s.Tracking, jwtMiddleware)
	invite.RegisterTripRoutes(trips, s.Invites, jwtMiddleware)
	convoy.RegisterRoutes(trips, s.Trips, s.Roster, s.Presence, jwtMiddleware)

	invite.RegisterRoutes(s.App.Group("/invites"), s.Invites, jwtMiddleware)
	presence.RegisterRoutes(s.App.Group("/presence"), s.Presence, presence.GateFunc(s.admitPresence), jwtMiddleware)
}

// admitPresence lets active members into the live channel of an active trip.
func (s *Server) admitPresence(ctx context.Context, tripID, userID string) error {
	t, err := s.Trips.Get(ctx, tripID)
	if err != nil {
		return err
	}
	if t.Status != domain.TripActive {
		return apperr.ErrTripNotActive
	}
	return s.Roster.RequireActive(ctx, tripID, userID)
}
