package handler

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/service"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/transport/http/middleware"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/utils"
)

type ReservationHandler struct {
	engine   service.StockEngine
	cart     service.CartAggregator
	validate *validator.Validate
	logger   *zap.Logger
}

func NewReservationHandler(engine service.StockEngine, cart service.CartAggregator, log *zap.Logger) *ReservationHandler {
	return &ReservationHandler{
		engine:   engine,
		cart:     cart,
		validate: validator.New(),
		logger:   log,
	}
}

type ReserveRequest struct {
	ProductID  int64           `json:"product_id" validate:"required,gt=0"`
	Quantity   decimal.Decimal `json:"quantity" validate:"required"`
	OwnerRef   string          `json:"owner_ref" validate:"required,max=128"`
	Actor      string          `json:"actor" validate:"max=128"`
	TTLSeconds int64           `json:"ttl_seconds" validate:"gte=0,lte=86400"`
}

type reservationResponse struct {
	ID        uuid.UUID       `json:"id"`
	ProductID int64           `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	OwnerRef  string          `json:"owner_ref"`
	State     string          `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func renderReservation(res *domain.Reservation) reservationResponse {
	return reservationResponse{
		ID:        res.ID,
		ProductID: res.ProductID,
		Quantity:  res.Quantity,
		OwnerRef:  res.OwnerRef,
		State:     string(res.State),
		CreatedAt: res.CreatedAt,
		ExpiresAt: res.ExpiresAt,
	}
}

func (h *ReservationHandler) Reserve(c *fiber.Ctx) error {
	ctx := c.UserContext()

	req := new(ReserveRequest)
	if err := c.BodyParser(req); err != nil {
		logger.Warn(ctx, h.logger, "body parsing failed", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, utils.FormatValidationError(err))
	}

	res, err := h.engine.Reserve(ctx, &domain.ReserveInput{
		TenantID:  middleware.TenantID(c),
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		OwnerRef:  req.OwnerRef,
		Actor:     req.Actor,
		TTL:       time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		logger.Warn(ctx, h.logger, "reserve failed",
			zap.Int64("product_id", req.ProductID),
			zap.String("owner_ref", req.OwnerRef),
			zap.Error(err),
		)

		return respondError(c, err)
	}

	logger.Info(ctx, h.logger, "stock reserved",
		zap.String("reservation_id", res.ID.String()),
		zap.Int64("product_id", req.ProductID),
	)

	return c.Status(fiber.StatusCreated).JSON(renderReservation(res))
}

func (h *ReservationHandler) Get(c *fiber.Ctx) error {
	id, ok := reservationIDParam(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}

	res, err := h.engine.GetReservation(c.UserContext(), middleware.TenantID(c), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(renderReservation(res))
}

type CommitRequest struct {
	ReferenceID string `json:"reference_id" validate:"required,max=128"`
}

func (h *ReservationHandler) Commit(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, ok := reservationIDParam(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}

	req := new(CommitRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, utils.FormatValidationError(err))
	}

	if err := h.engine.CommitReservation(ctx, middleware.TenantID(c), id, req.ReferenceID); err != nil {
		logger.Warn(ctx, h.logger, "commit failed",
			zap.String("reservation_id", id.String()),
			zap.Error(err),
		)

		return respondError(c, err)
	}

	logger.Info(ctx, h.logger, "reservation committed",
		zap.String("reservation_id", id.String()),
	)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "committed",
	})
}

func (h *ReservationHandler) Release(c *fiber.Ctx) error {
	ctx := c.UserContext()

	id, ok := reservationIDParam(c)
	if !ok {
		return badRequest(c, "invalid reservation id")
	}

	if err := h.engine.ReleaseReservation(ctx, middleware.TenantID(c), id); err != nil {
		logger.Warn(ctx, h.logger, "release failed",
			zap.String("reservation_id", id.String()),
			zap.Error(err),
		)

		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "released",
	})
}

type CheckoutRequest struct {
	OwnerRef   string            `json:"owner_ref" validate:"required,max=128"`
	Lines      []domain.CartLine `json:"lines" validate:"required,min=1,max=100,dive"`
	TTLSeconds int64             `json:"ttl_seconds" validate:"gte=0,lte=86400"`
}

// Checkout reserves every line of a cart or none of them.
func (h *ReservationHandler) Checkout(c *fiber.Ctx) error {
	ctx := c.UserContext()

	req := new(CheckoutRequest)
	if err := c.BodyParser(req); err != nil {
		logger.Warn(ctx, h.logger, "body parsing failed", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, utils.FormatValidationError(err))
	}

	reservations, err := h.cart.ReserveCart(
		ctx,
		middleware.TenantID(c),
		req.OwnerRef,
		req.Lines,
		time.Duration(req.TTLSeconds)*time.Second,
	)
	if err != nil {
		logger.Warn(ctx, h.logger, "cart checkout failed",
			zap.String("owner_ref", req.OwnerRef),
			zap.Int("lines", len(req.Lines)),
			zap.Error(err),
		)

		return respondError(c, err)
	}

	items := make([]reservationResponse, 0, len(reservations))
	for i := range reservations {
		items = append(items, renderReservation(&reservations[i]))
	}

	logger.Info(ctx, h.logger, "cart reserved",
		zap.String("owner_ref", req.OwnerRef),
		zap.Int("lines", len(items)),
	)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"reservations": items,
	})
}

type MigrateOwnerRequest struct {
	FromOwner string `json:"from_owner" validate:"required,max=128"`
	ToOwner   string `json:"to_owner" validate:"required,max=128"`
}

func (h *ReservationHandler) MigrateOwner(c *fiber.Ctx) error {
	ctx := c.UserContext()

	req := new(MigrateOwnerRequest)
	if err := c.BodyParser(req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, utils.FormatValidationError(err))
	}

	moved, err := h.engine.MigrateOwner(ctx, middleware.TenantID(c), req.FromOwner, req.ToOwner)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"migrated": moved,
	})
}

func reservationIDParam(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
