package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/transport/http/handler"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/transport/http/middleware"
)

type Handlers struct {
	Stock       *handler.StockHandler
	Reservation *handler.ReservationHandler
}

func RegisterRoutes(app *fiber.App, h *Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	api := app.Group("/api", middleware.NewTenantMiddleware())

	stock := api.Group("/stock")
	stock.Get("/low", h.Stock.ListLowStock)
	stock.Get("/out", h.Stock.ListOutOfStock)
	stock.Get("/:productId", h.Stock.GetStockLevel)
	stock.Post("/:productId/adjust", h.Stock.AdjustStock)
	stock.Get("/:productId/ledger", h.Stock.ListLedger)
	stock.Post("/:productId/reconcile", h.Stock.Reconcile)

	reservation := api.Group("/reservations")
	reservation.Post("", h.Reservation.Reserve)
	reservation.Post("/checkout", h.Reservation.Checkout)
	reservation.Post("/migrate-owner", h.Reservation.MigrateOwner)
	reservation.Get("/:id", h.Reservation.Get)
	reservation.Post("/:id/commit", h.Reservation.Commit)
	reservation.Post("/:id/release", h.Reservation.Release)
}
