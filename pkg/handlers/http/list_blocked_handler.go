package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/reputation"
)

type listBlockedHandler struct {
	logger *logrus.Logger
	store  *reputation.Store
}

func NewListBlockedHandler(logger *logrus.Logger, store *reputation.Store) Handler {
	return &listBlockedHandler{
		logger: logger,
		store:  store,
	}
}

func (s *listBlockedHandler) Handle(c *fiber.Ctx) error {
	entries, err := s.store.AllBlocked(c.UserContext())
	if err != nil {
		s.logger.WithError(err).Error("failed to list blocked IPs")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to list blocked ips"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"count":   len(entries),
		"entries": entries,
	})
}
