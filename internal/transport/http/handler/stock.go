package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/service"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/transport/http/middleware"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/utils"
)

type StockHandler struct {
	engine   service.StockEngine
	validate *validator.Validate
	logger   *zap.Logger
}

func NewStockHandler(engine service.StockEngine, log *zap.Logger) *StockHandler {
	return &StockHandler{
		engine:   engine,
		validate: validator.New(),
		logger:   log,
	}
}

type stockLevelResponse struct {
	ProductID           int64           `json:"product_id"`
	Quantity            decimal.Decimal `json:"quantity"`
	ReservedQuantity    decimal.Decimal `json:"reserved_quantity"`
	AvailableQuantity   decimal.Decimal `json:"available_quantity"`
	MinimumStockLevel   decimal.Decimal `json:"minimum_stock_level"`
	Status              string          `json:"status"`
	NeedsReconciliation bool            `json:"needs_reconciliation"`
	LastUpdated         time.Time       `json:"last_updated"`
}

func renderRecord(rec *domain.InventoryRecord) stockLevelResponse {
	return stockLevelResponse{
		ProductID:           rec.ProductID,
		Quantity:            rec.Quantity,
		ReservedQuantity:    rec.ReservedQuantity,
		AvailableQuantity:   rec.AvailableQuantity(),
		MinimumStockLevel:   rec.MinimumStockLevel,
		Status:              string(domain.Classify(rec)),
		NeedsReconciliation: rec.NeedsReconciliation,
		LastUpdated:         rec.LastUpdated,
	}
}

type AdjustStockRequest struct {
	Delta         decimal.Decimal `json:"delta" validate:"required"`
	Reason        string          `json:"reason" validate:"required"`
	ReferenceType string          `json:"reference_type" validate:"max=64"`
	ReferenceID   string          `json:"reference_id" validate:"max=128"`
	Actor         string          `json:"actor" validate:"max=128"`
	Override      bool            `json:"override"`
}

func (h *StockHandler) AdjustStock(c *fiber.Ctx) error {
	ctx := c.UserContext()

	productID, ok := productIDParam(c)
	if !ok {
		return badRequest(c, "invalid product id")
	}

	req := new(AdjustStockRequest)
	if err := c.BodyParser(req); err != nil {
		logger.Warn(ctx, h.logger, "body parsing failed", zap.Error(err))
		return badRequest(c, "invalid request body")
	}

	if err := h.validate.Struct(req); err != nil {
		return badRequest(c, utils.FormatValidationError(err))
	}

	rec, err := h.engine.AdjustStock(ctx, &domain.AdjustStockInput{
		TenantID:      middleware.TenantID(c),
		ProductID:     productID,
		Delta:         req.Delta,
		Reason:        domain.TransactionReason(req.Reason),
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Actor:         req.Actor,
		Override:      req.Override,
	})
	if err != nil {
		logger.Warn(ctx, h.logger, "adjust stock failed",
			zap.Int64("product_id", productID),
			zap.Error(err),
		)

		return respondError(c, err)
	}

	logger.Info(ctx, h.logger, "stock adjusted",
		zap.Int64("product_id", productID),
		zap.String("reason", req.Reason),
		zap.String("delta", req.Delta.String()),
	)

	return c.Status(fiber.StatusOK).JSON(renderRecord(rec))
}

func (h *StockHandler) GetStockLevel(c *fiber.Ctx) error {
	productID, ok := productIDParam(c)
	if !ok {
		return badRequest(c, "invalid product id")
	}

	rec, err := h.engine.GetStockLevel(c.UserContext(), middleware.TenantID(c), productID)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(renderRecord(rec))
}

func (h *StockHandler) ListLowStock(c *fiber.Ctx) error {
	return h.listByStatus(c, h.engine.ListLowStock)
}

func (h *StockHandler) ListOutOfStock(c *fiber.Ctx) error {
	return h.listByStatus(c, h.engine.ListOutOfStock)
}

func (h *StockHandler) listByStatus(
	c *fiber.Ctx,
	list func(ctx context.Context, tenantID string, limit, offset int64) ([]domain.InventoryRecord, int64, error),
) error {
	limit, offset, ok := pagination(c)
	if !ok {
		return badRequest(c, "invalid pagination")
	}

	records, total, err := list(c.UserContext(), middleware.TenantID(c), limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	items := make([]stockLevelResponse, 0, len(records))
	for i := range records {
		items = append(items, renderRecord(&records[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"items": items,
		"total": total,
	})
}

func (h *StockHandler) ListLedger(c *fiber.Ctx) error {
	productID, ok := productIDParam(c)
	if !ok {
		return badRequest(c, "invalid product id")
	}

	limit, offset, ok := pagination(c)
	if !ok {
		return badRequest(c, "invalid pagination")
	}

	entries, err := h.engine.ListLedger(c.UserContext(), middleware.TenantID(c), productID, limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"items": entries,
	})
}

func (h *StockHandler) Reconcile(c *fiber.Ctx) error {
	ctx := c.UserContext()

	productID, ok := productIDParam(c)
	if !ok {
		return badRequest(c, "invalid product id")
	}

	report, err := h.engine.Reconcile(ctx, middleware.TenantID(c), productID)
	if err != nil {
		return respondError(c, err)
	}

	if !report.Consistent {
		logger.Warn(ctx, h.logger, "reconciliation mismatch reported",
			zap.Int64("product_id", productID),
		)
	}

	return c.Status(fiber.StatusOK).JSON(report)
}

func badRequest(c *fiber.Ctx, msg any) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}

func productIDParam(c *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(c.Params("productId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func pagination(c *fiber.Ctx) (limit, offset int64, ok bool) {
	limit, err := strconv.ParseInt(c.Query("limit", "50"), 10, 64)
	if err != nil || limit <= 0 || limit > 500 {
		return 0, 0, false
	}

	offset, err = strconv.ParseInt(c.Query("offset", "0"), 10, 64)
	if err != nil || offset < 0 {
		return 0, 0, false
	}

	return limit, offset, true
}
