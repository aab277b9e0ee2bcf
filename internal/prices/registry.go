package prices

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps collateral symbols to provider symbols
type Registry struct {
	mappings map[string]string // collateral symbol -> provider symbol
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	r := &Registry{
		mappings: make(map[string]string),
	}

	// Default mappings
	r.AddMapping("ETH", "ETHUSDT")
	r.AddMapping("WETH", "ETHUSDT")
	r.AddMapping("BTC", "BTCUSDT")
	r.AddMapping("WBTC", "BTCUSDT")

	return r
}

// AddMapping adds a collateral symbol to provider symbol mapping
func (r *Registry) AddMapping(symbol, providerSymbol string) {
	r.mappings[strings.ToUpper(symbol)] = strings.ToUpper(providerSymbol)
}

// GetProviderSymbol returns the provider symbol for a collateral symbol
func (r *Registry) GetProviderSymbol(symbol string) (string, error) {
	providerSymbol, exists := r.mappings[strings.ToUpper(symbol)]
	if !exists {
		return "", fmt.Errorf("no mapping found for symbol: %s", symbol)
	}
	return providerSymbol, nil
}

// GetProviderSymbols returns the unique provider symbols, sorted
func (r *Registry) GetProviderSymbols() []string {
	seen := make(map[string]struct{})
	symbols := make([]string, 0, len(r.mappings))

	for _, sym := range r.mappings {
		if _, exists := seen[sym]; exists {
			continue
		}
		seen[sym] = struct{}{}
		symbols = append(symbols, sym)
	}

	sort.Strings(symbols)
	return symbols
}
