package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/aimededdinetouati/stockflow-api-sub004/pkg/utils"
)

// CatalogClient is the boundary to the external product catalog. The engine
// only needs existence checks and the low-stock threshold for new records.
type CatalogClient interface {
	ProductExists(ctx context.Context, tenantID string, productID int64) (bool, error)
	GetMinimumStockLevel(ctx context.Context, tenantID string, productID int64) (decimal.Decimal, error)
}

type httpCatalogClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	cb      *gobreaker.CircuitBreaker
}

func NewCatalogClient(baseURL string, timeout time.Duration, logger *zap.Logger) CatalogClient {
	settings := gobreaker.Settings{
		Name:        "CatalogService",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn(
				"Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	return &httpCatalogClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		cb:      gobreaker.NewCircuitBreaker(settings),
	}
}

type productResponse struct {
	ID                int64           `json:"id"`
	MinimumStockLevel decimal.Decimal `json:"minimum_stock_level"`
}

func (c *httpCatalogClient) fetchProduct(ctx context.Context, tenantID string, productID int64) (*productResponse, error) {
	return utils.ExecuteWithBreaker(c.cb, func() (*productResponse, error) {
		url := fmt.Sprintf("%s/internal/products/%d", c.baseURL, productID)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Tenant-Id", tenantID)

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("catalog request failed: %w", err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotFound:
			return nil, nil
		default:
			return nil, fmt.Errorf("catalog returned status %d", resp.StatusCode)
		}

		var product productResponse
		if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
			return nil, fmt.Errorf("error decoding catalog response: %w", err)
		}

		return &product, nil
	})
}

func (c *httpCatalogClient) ProductExists(ctx context.Context, tenantID string, productID int64) (bool, error) {
	product, err := c.fetchProduct(ctx, tenantID, productID)
	if err != nil {
		return false, err
	}

	return product != nil, nil
}

func (c *httpCatalogClient) GetMinimumStockLevel(ctx context.Context, tenantID string, productID int64) (decimal.Decimal, error) {
	product, err := c.fetchProduct(ctx, tenantID, productID)
	if err != nil {
		return decimal.Zero, err
	}
	if product == nil {
		return decimal.Zero, fmt.Errorf("product %d not found in catalog", productID)
	}

	return product.MinimumStockLevel, nil
}
