package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/metrics"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/repository/memory"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/service"
)

const testTenant = "acme"

type staticCatalog struct{}

func (staticCatalog) ProductExists(ctx context.Context, tenantID string, productID int64) (bool, error) {
	return true, nil
}

func (staticCatalog) GetMinimumStockLevel(ctx context.Context, tenantID string, productID int64) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type ConsumerSuite struct {
	suite.Suite
	ctx      context.Context
	store    *memory.Store
	engine   service.StockEngine
	consumer *OrderEventsConsumer
}

func TestConsumerSuite(t *testing.T) {
	suite.Run(t, new(ConsumerSuite))
}

func (s *ConsumerSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.engine = service.NewStockEngine(
		s.store,
		staticCatalog{},
		zap.NewNop(),
		metrics.New(prometheus.NewRegistry()),
		service.Tunables{
			RetryAttempts: 5,
			RetryBackoff:  time.Millisecond,
			DefaultTTL:    time.Minute,
			SweepBatch:    10,
		},
	)
	cart := service.NewCartAggregator(s.engine, zap.NewNop())
	s.consumer = NewOrderEventsConsumer(s.engine, cart, nil, zap.NewNop())
}

func (s *ConsumerSuite) restock(productID int64, quantity string) {
	_, err := s.engine.AdjustStock(s.ctx, &domain.AdjustStockInput{
		TenantID:  testTenant,
		ProductID: productID,
		Delta:     decimal.RequireFromString(quantity),
		Reason:    domain.ReasonRestock,
	})
	s.Require().NoError(err)
}

func (s *ConsumerSuite) handle(event string, payload any) {
	body, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": payload,
	})
	s.Require().NoError(err)

	s.Require().NoError(s.consumer.Handle(s.ctx, &sarama.ConsumerMessage{
		Topic: TopicOrderEvents,
		Value: body,
	}))
}

func (s *ConsumerSuite) quantityOf(productID int64) (quantity, reserved decimal.Decimal) {
	rec, err := s.engine.GetStockLevel(s.ctx, testTenant, productID)
	s.Require().NoError(err)
	return rec.Quantity, rec.ReservedQuantity
}

func (s *ConsumerSuite) TestOrderLifecycleCommit() {
	s.restock(1, "10")
	s.restock(2, "10")

	s.handle("OrderCreated", domain.OrderCreatedEvent{
		OrderID:  7,
		TenantID: testTenant,
		Items: []domain.OrderItem{
			{ProductID: 1, Quantity: decimal.RequireFromString("2")},
			{ProductID: 2, Quantity: decimal.RequireFromString("3")},
		},
	})

	_, reserved := s.quantityOf(1)
	s.True(reserved.Equal(decimal.RequireFromString("2")))

	s.handle("PaymentSucceeded", domain.PaymentSucceededEvent{
		OrderID:  7,
		TenantID: testTenant,
	})

	quantity, reserved := s.quantityOf(1)
	s.True(quantity.Equal(decimal.RequireFromString("8")))
	s.True(reserved.IsZero())

	quantity, reserved = s.quantityOf(2)
	s.True(quantity.Equal(decimal.RequireFromString("7")))
	s.True(reserved.IsZero())
}

func (s *ConsumerSuite) TestOrderLifecycleCancel() {
	s.restock(1, "10")

	s.handle("OrderCreated", domain.OrderCreatedEvent{
		OrderID:  8,
		TenantID: testTenant,
		Items:    []domain.OrderItem{{ProductID: 1, Quantity: decimal.RequireFromString("4")}},
	})

	s.handle("OrderCancelled", domain.OrderCancelledEvent{
		OrderID:  8,
		TenantID: testTenant,
	})

	quantity, reserved := s.quantityOf(1)
	s.True(quantity.Equal(decimal.RequireFromString("10")))
	s.True(reserved.IsZero())
}

func (s *ConsumerSuite) TestOrderWithShortfallReservesNothing() {
	s.restock(1, "10")
	s.restock(2, "1")

	s.handle("OrderCreated", domain.OrderCreatedEvent{
		OrderID:  9,
		TenantID: testTenant,
		Items: []domain.OrderItem{
			{ProductID: 1, Quantity: decimal.RequireFromString("2")},
			{ProductID: 2, Quantity: decimal.RequireFromString("5")},
		},
	})

	_, reserved := s.quantityOf(1)
	s.True(reserved.IsZero())
	_, reserved = s.quantityOf(2)
	s.True(reserved.IsZero())
}

func (s *ConsumerSuite) TestUndecodableMessageIsSkipped() {
	s.Require().NoError(s.consumer.Handle(s.ctx, &sarama.ConsumerMessage{
		Topic: TopicOrderEvents,
		Value: []byte("not json"),
	}))
}

func (s *ConsumerSuite) TestUnknownEventIsIgnored() {
	s.handle("SomethingElse", map[string]any{"x": 1})
}
