package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/service"
)

// respondError maps engine errors onto HTTP responses. User-recoverable
// conditions carry structured detail so the client can act on them.
func respondError(c *fiber.Ctx, err error) error {
	var availability *domain.InsufficientAvailabilityError
	if errors.As(err, &availability) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":      "insufficient availability",
			"product_id": availability.ProductID,
			"requested":  availability.Requested,
			"available":  availability.Available,
		})
	}

	var stock *domain.InsufficientStockError
	if errors.As(err, &stock) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":      "insufficient stock",
			"product_id": stock.ProductID,
			"delta":      stock.Delta,
			"quantity":   stock.Quantity,
			"floor":      stock.Floor,
		})
	}

	var cart *domain.CartReservationError
	if errors.As(err, &cart) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":    "cart could not be reserved",
			"failures": cart.Failures,
		})
	}

	var expired *domain.ReservationExpiredError
	if errors.As(err, &expired) {
		return c.Status(fiber.StatusGone).JSON(fiber.Map{
			"error":          "reservation expired",
			"reservation_id": expired.ReservationID,
			"expires_at":     expired.ExpiresAt,
		})
	}

	var invalid *domain.InvalidTransactionError
	if errors.As(err, &invalid) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": invalid.Error(),
		})
	}

	switch {
	case errors.Is(err, repository.ErrRecordNotFound),
		errors.Is(err, repository.ErrReservationNotFound),
		errors.Is(err, service.ErrUnknownProduct):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, service.ErrTooManyConflicts):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "stock is under heavy contention, retry later",
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
	})
}
