package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/service"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/logger"
	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/outbox/utils"
)

// TopicOrderEvents is published by the order subsystem; this engine reacts
// to the order lifecycle by holding, committing and releasing stock.
const TopicOrderEvents = "order_events"

type orderEventEnvelope struct {
	EventID int64           `json:"event_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// OrderEventsConsumer maps order lifecycle events onto stock operations.
// Holds taken for an order use the owner reference "order:<id>" so later
// payment events can find them without any shared state.
type OrderEventsConsumer struct {
	engine service.StockEngine
	cart   service.CartAggregator
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewOrderEventsConsumer(
	engine service.StockEngine,
	cart service.CartAggregator,
	pool *pgxpool.Pool,
	log *zap.Logger,
) *OrderEventsConsumer {
	return &OrderEventsConsumer{
		engine: engine,
		cart:   cart,
		pool:   pool,
		logger: log,
	}
}

// Handle is the consumer group callback. Undecodable messages are logged
// and skipped so one poisoned record cannot wedge the partition.
func (c *OrderEventsConsumer) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var env orderEventEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		logger.Error(ctx, c.logger, "Undecodable order event, skipping",
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return nil
	}

	process := func() error {
		return c.dispatch(ctx, &env)
	}

	if env.EventID != 0 {
		return utils.ProcessWithDeduplication(ctx, c.pool, c.logger, env.EventID, process)
	}
	return process()
}

func (c *OrderEventsConsumer) dispatch(ctx context.Context, env *orderEventEnvelope) error {
	switch env.Event {
	case "OrderCreated":
		return c.handleOrderCreated(ctx, env.Payload)
	case "PaymentSucceeded":
		return c.handlePaymentSucceeded(ctx, env.Payload)
	case "PaymentFailed":
		return c.handleOrderAbandoned(ctx, env.Payload, "payment failed")
	case "OrderCancelled":
		return c.handleOrderAbandoned(ctx, env.Payload, "order cancelled")
	default:
		logger.Debug(ctx, c.logger, "Ignoring order event",
			zap.String("event", env.Event),
		)
		return nil
	}
}

func orderOwnerRef(orderID int64) string {
	return fmt.Sprintf("order:%d", orderID)
}

func (c *OrderEventsConsumer) handleOrderCreated(ctx context.Context, payload json.RawMessage) error {
	var ev domain.OrderCreatedEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decoding OrderCreated: %w", err)
	}

	lines := make([]domain.CartLine, 0, len(ev.Items))
	for _, item := range ev.Items {
		lines = append(lines, domain.CartLine{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	_, err := c.cart.ReserveCart(ctx, ev.TenantID, orderOwnerRef(ev.OrderID), lines, 0)

	var cartErr *domain.CartReservationError
	if errors.As(err, &cartErr) {
		// Terminal for this order: the shortfall is permanent state, not a
		// transient failure, so the message is done. The order subsystem
		// observes the missing StockReserved events.
		logger.Warn(ctx, c.logger, "Order could not be fully reserved",
			zap.Int64("order_id", ev.OrderID),
			zap.Int("failed_lines", len(cartErr.Failures)),
		)
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info(ctx, c.logger, "Order stock reserved",
		zap.Int64("order_id", ev.OrderID),
		zap.Int("lines", len(lines)),
	)
	return nil
}

func (c *OrderEventsConsumer) handlePaymentSucceeded(ctx context.Context, payload json.RawMessage) error {
	var ev domain.PaymentSucceededEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decoding PaymentSucceeded: %w", err)
	}

	referenceID := fmt.Sprintf("%d", ev.OrderID)
	if err := c.engine.CommitByOwner(ctx, ev.TenantID, orderOwnerRef(ev.OrderID), referenceID); err != nil {
		var expired *domain.ReservationExpiredError
		if errors.As(err, &expired) {
			logger.Error(ctx, c.logger, "Payment succeeded for an order whose hold expired",
				zap.Int64("order_id", ev.OrderID),
				zap.String("reservation_id", expired.ReservationID.String()),
			)
			return nil
		}
		return err
	}

	logger.Info(ctx, c.logger, "Order stock committed",
		zap.Int64("order_id", ev.OrderID),
	)
	return nil
}

func (c *OrderEventsConsumer) handleOrderAbandoned(ctx context.Context, payload json.RawMessage, cause string) error {
	var ev domain.OrderCancelledEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decoding order abandonment: %w", err)
	}

	if err := c.engine.ReleaseByOwner(ctx, ev.TenantID, orderOwnerRef(ev.OrderID)); err != nil {
		return err
	}

	logger.Info(ctx, c.logger, "Order stock released",
		zap.Int64("order_id", ev.OrderID),
		zap.String("cause", cause),
	)
	return nil
}
