package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/calc"
	"github.com/argenta/argenta-backend/internal/store"
)

// PriceReader is the oracle surface the publisher polls.
type PriceReader interface {
	GetPrice(ctx context.Context, asset common.Address) (*uint256.Int, time.Time, error)
}

// PricedAsset names a collateral asset for publication.
type PricedAsset struct {
	Address common.Address
	Symbol  string
}

// PriceUpdate is what the publisher caches per asset and broadcasts on
// store.ChannelPrices.
type PriceUpdate struct {
	Asset     common.Address  `json:"asset"`
	Symbol    string          `json:"symbol"`
	Price     string          `json:"price"`
	Display   decimal.Decimal `json:"display"`
	UpdatedAt time.Time       `json:"updatedAt"`
	Stale     bool            `json:"stale"`
	Error     string          `json:"error,omitempty"`
}

type PricePublisher struct {
	oracle PriceReader
	assets []PricedAsset
	cache  *store.Cache
	logger *zap.SugaredLogger
	config PricePublisherConfig

	mu        sync.RWMutex
	last      map[common.Address]PriceUpdate
	cancelCtx context.CancelFunc
}

type PricePublisherConfig struct {
	PollInterval time.Duration // How often every feed is read
}

func NewPricePublisher(oracle PriceReader, assets []PricedAsset, cache *store.Cache, logger *zap.SugaredLogger, config PricePublisherConfig) *PricePublisher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPricePublisherConfig().PollInterval
	}
	return &PricePublisher{
		oracle: oracle,
		assets: assets,
		cache:  cache,
		logger: logger,
		config: config,
		last:   make(map[common.Address]PriceUpdate),
	}
}

// Start publishes once immediately and then on every tick until ctx ends.
func (p *PricePublisher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancelCtx = cancel
	p.mu.Unlock()

	symbols := make([]string, 0, len(p.assets))
	for _, a := range p.assets {
		symbols = append(symbols, a.Symbol)
	}
	p.logger.Infow("Starting price publisher", "assets", symbols, "interval", p.config.PollInterval)

	p.PublishOnce(ctx)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("Price publisher stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			p.PublishOnce(ctx)
		}
	}
}

func (p *PricePublisher) Stop() {
	p.mu.RLock()
	cancel := p.cancelCtx
	p.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// PublishOnce reads every feed and publishes the result. A failed read
// republishes the last good price marked stale.
func (p *PricePublisher) PublishOnce(ctx context.Context) []PriceUpdate {
	out := make([]PriceUpdate, 0, len(p.assets))
	for _, asset := range p.assets {
		update := p.read(ctx, asset)
		out = append(out, update)

		if err := p.cache.SetOraclePrice(ctx, asset.Address, update); err != nil {
			p.logger.Warnw("Failed to cache price", "asset", asset.Symbol, "error", err)
		}
		if err := p.cache.Publish(ctx, store.ChannelPrices, update); err != nil {
			p.logger.Warnw("Failed to publish price", "asset", asset.Symbol, "channel", store.ChannelPrices, "error", err)
		} else {
			p.logger.Debugw("Published price", "asset", asset.Symbol, "price", update.Display, "stale", update.Stale)
		}
	}
	return out
}

// Latest returns the last update published for asset.
func (p *PricePublisher) Latest(asset common.Address) (PriceUpdate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.last[asset]
	return u, ok
}

func (p *PricePublisher) read(ctx context.Context, asset PricedAsset) PriceUpdate {
	price, updatedAt, err := p.oracle.GetPrice(ctx, asset.Address)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.logger.Warnw("Oracle read failed", "asset", asset.Symbol, "error", err)
		update, ok := p.last[asset.Address]
		if !ok {
			update = PriceUpdate{Asset: asset.Address, Symbol: asset.Symbol}
		}
		update.Stale = true
		update.Error = err.Error()
		return update
	}

	update := PriceUpdate{
		Asset:     asset.Address,
		Symbol:    asset.Symbol,
		Price:     price.Dec(),
		Display:   calc.ToDecimal(price, 18),
		UpdatedAt: updatedAt,
	}
	p.last[asset.Address] = update
	return update
}

// DefaultPricePublisherConfig returns a reasonable default configuration
func DefaultPricePublisherConfig() PricePublisherConfig {
	return PricePublisherConfig{
		PollInterval: 5 * time.Second,
	}
}
