package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/ratelimit"
	"github.com/vigilsec/vigil/pkg/reputation"
	"github.com/vigilsec/vigil/pkg/scanner"
)

type statsHandler struct {
	logger  *logrus.Logger
	store   *reputation.Store
	scanner *scanner.Scanner
	limiter *ratelimit.Limiter
}

// NewStatsHandler reports operational counters across the pipeline. The
// limiter may be nil when external intel is disabled.
func NewStatsHandler(
	logger *logrus.Logger,
	store *reputation.Store,
	sc *scanner.Scanner,
	limiter *ratelimit.Limiter,
) Handler {
	return &statsHandler{
		logger:  logger,
		store:   store,
		scanner: sc,
		limiter: limiter,
	}
}

func (s *statsHandler) Handle(c *fiber.Ctx) error {
	blockStats, err := s.store.BlockStats(c.UserContext())
	if err != nil {
		s.logger.WithError(err).Error("failed to collect reputation stats")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to collect stats"})
	}

	out := fiber.Map{
		"reputation": blockStats,
		"scanner": fiber.Map{
			"cached_results": s.scanner.CacheSize(),
		},
	}
	if s.limiter != nil {
		out["intel_limiter"] = s.limiter.Stats()
	}

	return c.Status(fiber.StatusOK).JSON(out)
}
