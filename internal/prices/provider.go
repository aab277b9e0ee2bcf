package prices

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is a provider's latest price for a symbol.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Time   time.Time       `json:"time"`
}

// Provider defines the interface for price data sources
type Provider interface {
	// Quote returns the latest price for a provider-specific symbol
	// (e.g. "ETHUSDT").
	Quote(ctx context.Context, symbol string) (Quote, error)

	// Name returns the provider identifier
	Name() string

	// Health returns current provider health status
	Health() ProviderHealth
}

// ProviderHealth represents the current status of a provider
type ProviderHealth struct {
	Healthy     bool      `json:"healthy"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success"`
	Failures    int       `json:"failures"`
}
