package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/scanner"
	"github.com/vigilsec/vigil/pkg/types"
)

type scanRequest struct {
	Text  string   `json:"text"`
	Texts []string `json:"texts"`
}

type scanHandler struct {
	logger  *logrus.Logger
	scanner *scanner.Scanner
}

func NewScanHandler(logger *logrus.Logger, sc *scanner.Scanner) Handler {
	return &scanHandler{
		logger:  logger,
		scanner: sc,
	}
}

// Handle scans one text or a batch and returns the scan verdicts. Batches
// additionally return the aggregate.
func (s *scanHandler) Handle(c *fiber.Ctx) error {
	var req scanRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Text == "" && len(req.Texts) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text or texts is required"})
	}

	if req.Text != "" {
		result := s.scanner.ScanPrompt(c.UserContext(), req.Text, scanner.ScanOptions{})
		return c.Status(fiber.StatusOK).JSON(result)
	}

	results := s.scanner.ScanBatch(c.UserContext(), req.Texts, scanner.ScanOptions{})
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"results":   results,
		"aggregate": types.AggregateResults(results),
	})
}
