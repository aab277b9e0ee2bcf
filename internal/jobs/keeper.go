package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/liquidation"
	"github.com/argenta/argenta-backend/internal/metrics"
	"github.com/argenta/argenta-backend/internal/store"
	"github.com/argenta/argenta-backend/internal/vault"
)

// PositionScanner is the vault surface the keeper reads.
type PositionScanner interface {
	OpenPositions() []vault.Position
	Health(ctx context.Context, id uint64) (vault.Valuation, error)
}

// Liquidator executes a liquidation on behalf of caller.
type Liquidator interface {
	Liquidate(ctx context.Context, caller common.Address, id uint64) (vault.Seizure, error)
}

type KeeperConfig struct {
	Interval time.Duration
	Identity common.Address
}

// ScanReport summarises one keeper pass.
type ScanReport struct {
	Scanned    int      `json:"scanned"`
	Eligible   int      `json:"eligible"`
	Liquidated []uint64 `json:"liquidated"`
	Failed     []uint64 `json:"failed"`
}

// Keeper periodically liquidates every open position that sits below its
// liquidation threshold, repaying from its own stable balance.
type Keeper struct {
	positions  PositionScanner
	liquidator Liquidator
	cache      *store.Cache
	metrics    *metrics.Metrics
	logger     *zap.SugaredLogger
	config     KeeperConfig
}

func NewKeeper(positions PositionScanner, liquidator Liquidator, cache *store.Cache, m *metrics.Metrics, logger *zap.SugaredLogger, config KeeperConfig) *Keeper {
	return &Keeper{
		positions:  positions,
		liquidator: liquidator,
		cache:      cache,
		metrics:    m,
		logger:     logger,
		config:     config,
	}
}

func (k *Keeper) Start(ctx context.Context) error {
	k.logger.Infow("Starting liquidation keeper", "identity", k.config.Identity.Hex(), "interval", k.config.Interval)

	ticker := time.NewTicker(k.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			k.logger.Infow("Liquidation keeper stopping due to context cancellation")
			return ctx.Err()
		case <-ticker.C:
			k.ScanOnce(ctx)
		}
	}
}

// ScanOnce evaluates every open position with debt and liquidates the
// eligible ones. Failures are logged and retried on the next pass.
func (k *Keeper) ScanOnce(ctx context.Context) ScanReport {
	var report ScanReport
	for _, pos := range k.positions.OpenPositions() {
		if pos.Principal == nil || pos.Principal.IsZero() {
			continue
		}
		report.Scanned++

		val, err := k.positions.Health(ctx, pos.ID)
		if err != nil {
			k.logger.Warnw("Keeper could not value position", "position_id", pos.ID, "error", err)
			continue
		}
		if !liquidation.Eligible(val) {
			continue
		}
		report.Eligible++

		seizure, err := k.liquidator.Liquidate(ctx, k.config.Identity, pos.ID)
		switch {
		case err == nil:
			report.Liquidated = append(report.Liquidated, pos.ID)
			k.metrics.RecordLiquidation(ctx, "keeper")
			k.logger.Infow("Keeper liquidated position",
				"position_id", pos.ID,
				"owner", seizure.Owner.Hex(),
				"debt_repaid", seizure.DebtRepaid.Dec())
		case errors.Is(err, errs.ErrNotLiquidatable):
			// Price moved between the scan and the seizure.
			report.Eligible--
		default:
			report.Failed = append(report.Failed, pos.ID)
			k.logger.Warnw("Keeper liquidation failed", "position_id", pos.ID, "error", err)
		}
	}

	k.metrics.RecordKeeperScan(ctx, report.Eligible)
	if k.cache != nil {
		if _, err := k.cache.IncrKeeperCounter(ctx, "scans", 1); err != nil {
			k.logger.Debugw("Failed to bump keeper counter", "counter", "scans", "error", err)
		}
		if n := len(report.Liquidated); n > 0 {
			if _, err := k.cache.IncrKeeperCounter(ctx, "liquidations", int64(n)); err != nil {
				k.logger.Debugw("Failed to bump keeper counter", "counter", "liquidations", "error", err)
			}
		}
	}
	return report
}
