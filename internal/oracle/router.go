// Package oracle routes asset identifiers to external price feeds and
// normalizes their answers to 18 decimals.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/access"
	"github.com/argenta/argenta-backend/internal/calc"
	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/uow"
)

// Round is a single feed reading in the feed's own decimals.
type Round struct {
	Answer    *big.Int
	UpdatedAt time.Time
}

// Source is an external price feed.
type Source interface {
	LatestRound(ctx context.Context) (Round, error)
	Description() string
}

type Feed struct {
	Asset    common.Address
	Source   Source
	Decimals uint8
	Active   bool
}

type Router struct {
	mu     sync.RWMutex
	admin  access.Admin
	feeds  map[common.Address]Feed
	maxAge time.Duration
	now    func() time.Time
	pub    uow.Publisher
	logger *zap.SugaredLogger
}

// NewRouter creates a router. A zero maxAge disables staleness checks.
func NewRouter(admin access.Admin, maxAge time.Duration, pub uow.Publisher, logger *zap.SugaredLogger) *Router {
	return &Router{
		admin:  admin,
		feeds:  make(map[common.Address]Feed),
		maxAge: maxAge,
		now:    time.Now,
		pub:    pub,
		logger: logger,
	}
}

// WithClock overrides the staleness reference clock.
func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// SetFeed registers or replaces the feed for asset.
func (r *Router) SetFeed(ctx context.Context, caller, asset common.Address, src Source, decimals uint8, active bool) error {
	if err := r.admin.Require(caller, "setFeed"); err != nil {
		return err
	}
	if src == nil {
		return fmt.Errorf("setFeed %s: nil source: %w", asset.Hex(), errs.ErrInvalidConfig)
	}
	if decimals > 77 {
		return fmt.Errorf("setFeed %s: %d decimals unsupported: %w", asset.Hex(), decimals, errs.ErrInvalidConfig)
	}

	r.mu.Lock()
	r.feeds[asset] = Feed{Asset: asset, Source: src, Decimals: decimals, Active: active}
	r.mu.Unlock()

	r.logger.Infow("Feed updated",
		"asset", asset.Hex(),
		"source", src.Description(),
		"decimals", decimals,
		"active", active)

	if r.pub != nil {
		r.pub.Publish(ctx, []events.Event{{
			Kind: events.KindFeedUpdated,
			Time: r.now().UTC(),
			Payload: events.FeedUpdated{
				Asset:    asset,
				Source:   src.Description(),
				Decimals: decimals,
				Active:   active,
			},
		}})
	}
	return nil
}

// GetPrice reads the feed for asset and returns its answer at 18 decimals.
// Every call goes to the source.
func (r *Router) GetPrice(ctx context.Context, asset common.Address) (*uint256.Int, time.Time, error) {
	r.mu.RLock()
	feed, ok := r.feeds[asset]
	r.mu.RUnlock()

	if !ok || !feed.Active {
		return nil, time.Time{}, fmt.Errorf("no active feed for %s: %w", asset.Hex(), errs.ErrPriceUnavailable)
	}

	round, err := feed.Source.LatestRound(ctx)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("feed %s: %v: %w", feed.Source.Description(), err, errs.ErrPriceUnavailable)
	}
	if err := calc.ValidateOracleAge(round.UpdatedAt, r.now(), r.maxAge); err != nil {
		return nil, time.Time{}, fmt.Errorf("feed %s: %w", feed.Source.Description(), err)
	}
	price, err := calc.NormalizePrice(round.Answer, feed.Decimals)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("feed %s: %w", feed.Source.Description(), err)
	}
	return price, round.UpdatedAt, nil
}

// Feeds lists configured feeds, active or not.
func (r *Router) Feeds() []Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Feed, 0, len(r.feeds))
	for _, f := range r.feeds {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Hex() < out[j].Asset.Hex() })
	return out
}
