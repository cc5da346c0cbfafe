package server

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/vigilsec/vigil/pkg/config"
	"github.com/vigilsec/vigil/pkg/infra/prometheus"
	"github.com/vigilsec/vigil/pkg/middleware"
	"github.com/vigilsec/vigil/pkg/version"
)

const HealthPath = "/health"

// Server hosts the filtered application routes plus an optional metrics
// listener on a separate port.
type Server struct {
	cfg            *config.Config
	logger         *logrus.Logger
	app            *fiber.App
	metricsStarted bool
}

func New(cfg *config.Config, logger *logrus.Logger, filter middleware.Middleware, routes func(fiber.Router)) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReduceMemoryUsage:     true,
		Network:               fiber.NetworkTCP,
		BodyLimit:             8 * 1024 * 1024,
		ReadTimeout:           60 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Server().NoDefaultServerHeader = true
	app.Server().NoDefaultContentType = true

	app.Get(HealthPath, func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":  "healthy",
			"version": version.Version,
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	app.Use(filter.Middleware())
	if routes != nil {
		routes(app)
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		app:    app,
	}
	s.setupMetricsEndpoint()
	return s
}

func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.WithFields(logrus.Fields{
		"addr":    addr,
		"version": version.Version,
	}).Info("starting server")
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) setupMetricsEndpoint() {
	if !s.cfg.Metrics.Enabled {
		s.logger.Info("prometheus metrics are disabled by configuration")
		return
	}
	if s.metricsStarted {
		return
	}
	s.metricsStarted = true

	metricsApp := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	metricsApp.Use(fiberrecover.New())

	handler := fasthttpadaptor.NewFastHTTPHandler(prometheus.Handler())
	metricsApp.Get("/metrics", func(c *fiber.Ctx) error {
		handler(c.Context())
		return nil
	})

	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)
		if err := metricsApp.Listen(addr); err != nil {
			if !strings.Contains(err.Error(), "address already in use") {
				s.logger.WithError(err).Error("failed to start metrics server")
			}
		}
	}()
}
