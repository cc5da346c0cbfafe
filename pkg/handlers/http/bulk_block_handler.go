package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/reputation"
)

type bulkBlockRequest struct {
	Source   string               `json:"source"`
	Findings []reputation.Finding `json:"findings"`
}

type bulkBlockHandler struct {
	logger *logrus.Logger
	store  *reputation.Store
}

func NewBulkBlockHandler(logger *logrus.Logger, store *reputation.Store) Handler {
	return &bulkBlockHandler{
		logger: logger,
		store:  store,
	}
}

// Handle ingests a reputation feed batch. Already-blocked addresses are
// skipped, suspicious ones only marked.
func (s *bulkBlockHandler) Handle(c *fiber.Ctx) error {
	var req bulkBlockRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if len(req.Findings) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "findings is required"})
	}
	source := req.Source
	if source == "" {
		source = "bulk-api"
	}

	result, err := s.store.BulkBlockIPs(c.UserContext(), req.Findings, source)
	if err != nil {
		s.logger.WithError(err).Error("bulk block failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "bulk block failed"})
	}

	return c.Status(fiber.StatusOK).JSON(result)
}
