package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/onboarding-agent/backend/internal/api/handlers"
	"github.com/onboarding-agent/backend/internal/metrics"
	"github.com/onboarding-agent/backend/internal/middleware/ratelimit"
	"github.com/onboarding-agent/backend/internal/middleware/security"
	"github.com/onboarding-agent/backend/internal/middleware/validation"
	"github.com/onboarding-agent/backend/pkg/logger"
)

type Config struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	BodyLimit         int
	MaxQueryLength    int
	AllowOrigins      []string
	RequestsPerMinute int
	Burst             int
	AccessLog         bool
	Development       bool
}

type Deps struct {
	Agent    handlers.Agent
	Ingester handlers.Ingester
	History  handlers.RunHistory
}

// NewApp builds the fiber application. The returned limiter must be stopped
// when the app shuts down.
func NewApp(cfg Config, deps Deps) (*fiber.App, *ratelimit.RateLimiter) {
	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(cfg.AllowOrigins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.AllowOrigins,
		IsDevelopment:  cfg.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		Logger:            logger.GetLogger(),
	})
	validate := validation.Middleware(validation.Config{
		MaxQueryLength: cfg.MaxQueryLength,
		Logger:         logger.GetLogger(),
	})

	app.Get("/", handlers.HandleHealth)
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Get("/health", handlers.HandleHealth)

	chat := handlers.NewChatHandler(deps.Agent)
	api.Post("/chat", limiter.Middleware(), validate, chat.HandleChat)
	api.Post("/chat/stream", limiter.Middleware(), validate, chat.HandleStream)

	ws := handlers.NewWebSocketHandler(deps.Agent, cfg.MaxQueryLength)
	api.Get("/ws", limiter.Middleware(), handlers.Upgrade, websocket.New(ws.HandleConnection))

	if deps.Ingester != nil {
		ingest := handlers.NewIngestHandler(deps.Ingester, deps.History)
		api.Post("/ingest", limiter.Middleware(), ingest.HandleIngest)
		api.Get("/ingest/runs", ingest.HandleRuns)
	}

	return app, limiter
}
