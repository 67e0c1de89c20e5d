package remote

import (
	"context"

	"github.com/storepilot/sync-orchestrator/internal/httpclient"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

// Client talks to one remote platform.
type Client interface {
	// ListOrders returns page (1-based) of orders of shop matching filter.
	ListOrders(ctx context.Context, shop Shop, filter Filter, page int) (*OrderPage, error)

	// GetOrderDetail returns the full order identified by code.
	GetOrderDetail(ctx context.Context, shop Shop, code string) (*Order, error)
}

// HTTPError is returned by clients for non-success HTTP responses. Use
// IsRateLimited and IsAuthExpired to tell the retryable cases apart.
type HTTPError = httpclient.HTTPError
