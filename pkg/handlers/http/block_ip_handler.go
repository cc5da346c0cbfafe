package http

import (
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/reputation"
)

type blockIPRequest struct {
	IP              string            `json:"ip"`
	Reason          string            `json:"reason"`
	Source          string            `json:"source"`
	ConfidenceScore float64           `json:"confidence_score"`
	RequestCount    int64             `json:"request_count"`
	TemporaryHours  int               `json:"temporary_hours"`
	Metadata        map[string]string `json:"metadata"`
}

type blockIPHandler struct {
	logger *logrus.Logger
	store  *reputation.Store
}

func NewBlockIPHandler(logger *logrus.Logger, store *reputation.Store) Handler {
	return &blockIPHandler{
		logger: logger,
		store:  store,
	}
}

func (s *blockIPHandler) Handle(c *fiber.Ctx) error {
	var req blockIPRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if net.ParseIP(req.IP) == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid ip address"})
	}

	reason := reputation.BlockReason(req.Reason)
	if reason == "" {
		reason = reputation.ReasonManual
	}
	source := req.Source
	if source == "" {
		source = "admin-api"
	}

	err := s.store.BlockIP(c.UserContext(), req.IP, reason, source, reputation.BlockOptions{
		ConfidenceScore: req.ConfidenceScore,
		RequestCount:    req.RequestCount,
		TemporaryHours:  req.TemporaryHours,
		Metadata:        req.Metadata,
	})
	if err != nil {
		s.logger.WithError(err).WithField("ip", reputation.MaskIP(req.IP)).Error("failed to block IP")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to block ip"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"status": "blocked"})
}
