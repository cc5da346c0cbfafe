package http

import (
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/vigilsec/vigil/pkg/reputation"
)

type unblockIPHandler struct {
	logger *logrus.Logger
	store  *reputation.Store
}

func NewUnblockIPHandler(logger *logrus.Logger, store *reputation.Store) Handler {
	return &unblockIPHandler{
		logger: logger,
		store:  store,
	}
}

func (s *unblockIPHandler) Handle(c *fiber.Ctx) error {
	ip := c.Params("ip")
	if net.ParseIP(ip) == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid ip address"})
	}

	if err := s.store.UnblockIP(c.UserContext(), ip, reputation.ReasonManual); err != nil {
		s.logger.WithError(err).WithField("ip", reputation.MaskIP(ip)).Error("failed to unblock IP")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to unblock ip"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "unblocked"})
}
