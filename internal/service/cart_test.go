package service_test

import (
	"time"

	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/internal/domain"
	"github.com/aimededdinetouati/stockflow-api-sub004/internal/service"
)

func (s *EngineSuite) cartAggregator() service.CartAggregator {
	return service.NewCartAggregator(s.engine, zap.NewNop())
}

func (s *EngineSuite) TestReserveCartAllLines() {
	s.restock(1, "10")
	s.restock(2, "10")

	cart := s.cartAggregator()
	reservations, err := cart.ReserveCart(s.ctx, testTenant, "cart:alice", []domain.CartLine{
		{ProductID: 1, Quantity: dec("2")},
		{ProductID: 2, Quantity: dec("3")},
	}, time.Minute)
	s.Require().NoError(err)
	s.Require().Len(reservations, 2)

	for i := range reservations {
		s.Equal(domain.ReservationStateActive, reservations[i].State)
		s.Equal("cart:alice", reservations[i].OwnerRef)
	}

	s.True(s.record(1).ReservedQuantity.Equal(dec("2")))
	s.True(s.record(2).ReservedQuantity.Equal(dec("3")))
}

func (s *EngineSuite) TestReserveCartAllOrNothing() {
	s.restock(1, "10")
	s.restock(2, "1")

	cart := s.cartAggregator()
	_, err := cart.ReserveCart(s.ctx, testTenant, "cart:alice", []domain.CartLine{
		{ProductID: 1, Quantity: dec("2")},
		{ProductID: 2, Quantity: dec("5")},
	}, time.Minute)

	var cartErr *domain.CartReservationError
	s.Require().ErrorAs(err, &cartErr)
	s.Require().Len(cartErr.Failures, 1)
	s.Equal(int64(2), cartErr.Failures[0].ProductID)
	s.True(cartErr.Failures[0].Available.Equal(dec("1")))

	// The successful line was rolled back.
	s.True(s.record(1).ReservedQuantity.IsZero())
	s.True(s.record(2).ReservedQuantity.IsZero())
}

func (s *EngineSuite) TestReserveCartReportsEveryShortfall() {
	s.restock(1, "1")
	s.restock(2, "1")

	cart := s.cartAggregator()
	_, err := cart.ReserveCart(s.ctx, testTenant, "cart:alice", []domain.CartLine{
		{ProductID: 1, Quantity: dec("5")},
		{ProductID: 2, Quantity: dec("5")},
		{ProductID: 404, Quantity: dec("1")},
	}, time.Minute)

	var cartErr *domain.CartReservationError
	s.Require().ErrorAs(err, &cartErr)
	s.Len(cartErr.Failures, 3)

	// An unstocked product reports zero availability, not an internal error.
	last := cartErr.Failures[2]
	s.Equal(int64(404), last.ProductID)
	s.True(last.Available.IsZero())
}

func (s *EngineSuite) TestReserveCartEmpty() {
	cart := s.cartAggregator()
	_, err := cart.ReserveCart(s.ctx, testTenant, "cart:alice", nil, time.Minute)

	var invalid *domain.InvalidTransactionError
	s.ErrorAs(err, &invalid)
}
