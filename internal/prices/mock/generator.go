package mock

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/prices"
)

// Generator provides mock prices for development and fallback scenarios. Each
// symbol follows its own bounded random walk.
type Generator struct {
	logger     *zap.SugaredLogger
	mu         sync.RWMutex
	base       map[string]float64
	current    map[string]float64
	volatility float64
	health     prices.ProviderHealth
	rng        *rand.Rand
}

// NewGenerator creates a mock generator seeded with base prices per symbol
func NewGenerator(logger *zap.SugaredLogger, base map[string]float64, volatility float64) *Generator {
	if volatility <= 0 {
		volatility = 0.002 // 0.2% volatility
	}

	g := &Generator{
		logger:     logger,
		base:       make(map[string]float64),
		current:    make(map[string]float64),
		volatility: volatility,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
	for sym, p := range base {
		g.Set(sym, p)
	}
	return g
}

// Name returns the provider identifier
func (g *Generator) Name() string {
	return "mock"
}

// Health returns current provider health status
func (g *Generator) Health() prices.ProviderHealth {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.health
}

// Quote returns the symbol's current walk price.
func (g *Generator) Quote(ctx context.Context, symbol string) (prices.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	sym := strings.ToUpper(symbol)
	p, ok := g.current[sym]
	if !ok {
		return prices.Quote{}, fmt.Errorf("mock: unknown symbol %s", symbol)
	}
	g.health.LastSuccess = time.Now()
	return prices.Quote{
		Symbol: sym,
		Price:  decimal.NewFromFloat(p).Round(8),
		Time:   time.Now().UTC(),
	}, nil
}

// Set pins a symbol's price and makes it the new walk base.
func (g *Generator) Set(symbol string, price float64) {
	if price <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	sym := strings.ToUpper(symbol)
	g.base[sym] = price
	g.current[sym] = price
}

// Step advances every symbol one tick.
func (g *Generator) Step() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for sym, p := range g.current {
		next := p * (1 + g.generatePriceChange())

		// Ensure price stays within reasonable bounds (±50% of base)
		base := g.base[sym]
		if next < base*0.5 {
			next = base * 0.5
		} else if next > base*1.5 {
			next = base * 1.5
		}
		g.current[sym] = next
	}
}

// Run steps the walk every interval until ctx is done.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	g.logger.Infow("Starting mock price walk", "interval", interval, "volatility", g.volatility)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Step()
		}
	}
}

// generatePriceChange creates a realistic price movement
func (g *Generator) generatePriceChange() float64 {
	baseChange := g.rng.NormFloat64() * g.volatility

	// Add some trending behavior occasionally
	if g.rng.Float64() < 0.1 { // 10% chance of trend
		trend := (g.rng.Float64() - 0.5) * g.volatility * 2
		baseChange += trend
	}

	// Clamp extreme movements
	maxChange := g.volatility * 5
	if baseChange > maxChange {
		baseChange = maxChange
	} else if baseChange < -maxChange {
		baseChange = -maxChange
	}

	return baseChange
}
