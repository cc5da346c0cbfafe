package http

import "github.com/gofiber/fiber/v2"

type Handler interface {
	Handle(ctx *fiber.Ctx) error
}

type HandlerTransport struct {
	// Scanning
	ScanHandler Handler

	// Reputation
	BlockIPHandler     Handler
	UnblockIPHandler   Handler
	BulkBlockHandler   Handler
	ListBlockedHandler Handler
	StatsHandler       Handler
}
