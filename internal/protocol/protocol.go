// Package protocol assembles the components from configuration and a
// genesis layout and wires them to each other.
package protocol

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/access"
	"github.com/argenta/argenta-backend/internal/calc"
	"github.com/argenta/argenta-backend/internal/config"
	"github.com/argenta/argenta-backend/internal/debt"
	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/guard"
	"github.com/argenta/argenta-backend/internal/interest"
	"github.com/argenta/argenta-backend/internal/ledger"
	"github.com/argenta/argenta-backend/internal/liquidation"
	"github.com/argenta/argenta-backend/internal/oracle"
	"github.com/argenta/argenta-backend/internal/prices"
	"github.com/argenta/argenta-backend/internal/prices/binance"
	"github.com/argenta/argenta-backend/internal/prices/mock"
	"github.com/argenta/argenta-backend/internal/registry"
	"github.com/argenta/argenta-backend/internal/session"
	"github.com/argenta/argenta-backend/internal/vault"
)

type Options struct {
	Protocol     config.ProtocolConfig
	Prices       config.PriceConfig
	OracleMaxAge time.Duration
	Genesis      config.Genesis

	// Provider overrides the provider selected by Prices.Provider.
	Provider prices.Provider
	Bus      *events.Bus
	Logger   *zap.SugaredLogger
	Clock    func() time.Time
}

// Asset pairs a collateral token with the provider symbol its feed quotes.
type Asset struct {
	Token          *ledger.Token
	ProviderSymbol string
}

type Protocol struct {
	Admin       access.Admin
	Bus         *events.Bus
	Provider    prices.Provider
	Stable      *ledger.Token
	Book        *ledger.Book
	Registry    *registry.Registry
	Oracle      *oracle.Router
	Guard       *guard.Guard
	Interest    *interest.Model
	Debt        *debt.Engine
	Vault       *vault.Manager
	Liquidation *liquidation.Module
	Verifier    *session.Verifier
	Executor    *session.Executor

	assets []Asset
	logger *zap.SugaredLogger
}

// New builds and wires every component. All configuration calls go through
// the administrator, so they emit the same events an operator would cause.
func New(ctx context.Context, opts Options) (*Protocol, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus(logger)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	adminAddr := opts.Protocol.Admin()
	admin := access.NewAdmin(adminAddr)
	g := opts.Genesis
	p := &Protocol{Admin: admin, Bus: bus, logger: logger}

	rate, err := opts.Protocol.AnnualRate()
	if err != nil {
		return nil, fmt.Errorf("interest rate: %w", err)
	}
	if p.Interest, err = interest.New(rate); err != nil {
		return nil, err
	}
	limits, err := opts.Protocol.Limits()
	if err != nil {
		return nil, err
	}
	if p.Guard, err = guard.New(guard.Limits{
		MaxTotalDebt:       limits.MaxTotalDebt,
		MaxWindowMint:      limits.MaxWindowMint,
		MaxPerAssetDeposit: limits.MaxPerAssetDeposit,
		Window:             opts.Protocol.MintWindow,
	}); err != nil {
		return nil, err
	}

	p.Stable = ledger.NewToken(ledger.TokenConfig{
		Address:  g.Stable.Addr(),
		Symbol:   g.Stable.Symbol,
		Decimals: g.Stable.Decimals,
		Admin:    admin,
	}, bus)
	p.Book = ledger.NewBook(p.Stable)

	priceRegistry := prices.NewRegistry()
	for _, c := range g.Collateral {
		sym := c.Feed.ProviderSymbol
		if sym == "" {
			if sym, err = priceRegistry.GetProviderSymbol(c.Symbol); err != nil {
				return nil, fmt.Errorf("collateral %s: %w", c.Symbol, err)
			}
		}
		token := ledger.NewToken(ledger.TokenConfig{
			Address:  c.Addr(),
			Symbol:   c.Symbol,
			Decimals: c.Decimals,
			Admin:    admin,
			Minter:   adminAddr,
		}, bus)
		p.Book.Add(token)
		p.assets = append(p.assets, Asset{Token: token, ProviderSymbol: sym})
	}

	p.Provider = opts.Provider
	if p.Provider == nil {
		if p.Provider, err = newProvider(opts.Prices, g, p.assets, logger); err != nil {
			return nil, err
		}
	}

	p.Registry = registry.New(admin, bus, logger)
	p.Oracle = oracle.NewRouter(admin, opts.OracleMaxAge, bus, logger).WithClock(clock)
	for i, c := range g.Collateral {
		capAmount, err := calc.ParseAmount(c.DepositCap, c.Decimals)
		if err != nil {
			return nil, fmt.Errorf("collateral %s deposit cap: %w", c.Symbol, err)
		}
		if err := p.Registry.SetCollateral(ctx, adminAddr, c.Addr(), c.MinRatioBps, c.LiqThresholdBps, capAmount, c.Active); err != nil {
			return nil, fmt.Errorf("collateral %s: %w", c.Symbol, err)
		}
		src := prices.NewFeedSource(p.Provider, p.assets[i].ProviderSymbol, c.Feed.Decimals)
		if err := p.Oracle.SetFeed(ctx, adminAddr, c.Addr(), src, c.Feed.Decimals, true); err != nil {
			return nil, fmt.Errorf("feed %s: %w", c.Symbol, err)
		}
	}

	debtAddr := common.HexToAddress(g.Components.DebtEngine)
	vaultAddr := common.HexToAddress(g.Components.Vault)
	liqAddr := common.HexToAddress(g.Components.Liquidation)

	p.Debt = debt.New(debtAddr, admin, p.Stable, p.Interest, bus, logger)
	if err := p.Stable.SetMinter(ctx, adminAddr, debtAddr); err != nil {
		return nil, fmt.Errorf("set stable minter: %w", err)
	}
	if err := p.Debt.SetVault(ctx, adminAddr, vaultAddr); err != nil {
		return nil, err
	}

	p.Vault = vault.NewManager(vault.Config{
		Address:  vaultAddr,
		Admin:    admin,
		Registry: p.Registry,
		Oracle:   p.Oracle,
		Guard:    p.Guard,
		Debt:     p.Debt,
		Book:     p.Book,
		Bus:      bus,
		Logger:   logger,
		Clock:    clock,
	})
	if err := p.Vault.SetLiquidator(ctx, adminAddr, liqAddr); err != nil {
		return nil, err
	}

	bonus := opts.Protocol.LiquidationBonusBps
	if p.Liquidation, err = liquidation.New(liqAddr, admin, bonus, bus, logger); err != nil {
		return nil, err
	}
	if err := p.Liquidation.SetVault(ctx, adminAddr, p.Vault); err != nil {
		return nil, err
	}

	p.Verifier = session.NewVerifier(bus).WithClock(clock)
	p.Executor = session.NewExecutor(common.HexToAddress(g.Components.Executor), p.Verifier, bus, logger).WithClock(clock)
	for _, l := range p.Book.All() {
		p.Executor.Register(session.NewLedgerTarget(l))
	}

	for _, b := range g.Balances {
		token, err := p.TokenBySymbol(b.Symbol)
		if err != nil {
			return nil, err
		}
		amount, err := calc.ParseAmount(b.Amount, token.Decimals())
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", b.Symbol, err)
		}
		if err := token.Mint(adminAddr, common.HexToAddress(b.Account), amount); err != nil {
			return nil, fmt.Errorf("seed %s for %s: %w", b.Symbol, b.Account, err)
		}
	}

	logger.Infow("Protocol assembled",
		"admin", adminAddr.Hex(),
		"vault", vaultAddr.Hex(),
		"debt_engine", debtAddr.Hex(),
		"liquidation", liqAddr.Hex(),
		"collateral", len(p.assets),
		"provider", p.Provider.Name())
	return p, nil
}

func newProvider(cfg config.PriceConfig, g config.Genesis, assets []Asset, logger *zap.SugaredLogger) (prices.Provider, error) {
	switch cfg.Provider {
	case "binance":
		return binance.NewProvider(logger), nil
	case "mock", "":
		base := make(map[string]float64, len(assets))
		for i, c := range g.Collateral {
			if c.Feed.MockPrice > 0 {
				base[assets[i].ProviderSymbol] = c.Feed.MockPrice
			}
		}
		return mock.NewGenerator(logger, base, cfg.MockVolatility), nil
	default:
		return nil, fmt.Errorf("unknown price provider %q: %w", cfg.Provider, errs.ErrInvalidConfig)
	}
}

// Assets lists the collateral tokens in genesis order.
func (p *Protocol) Assets() []Asset {
	return append([]Asset(nil), p.assets...)
}

func (p *Protocol) Token(addr common.Address) (*ledger.Token, error) {
	if addr == p.Stable.Address() {
		return p.Stable, nil
	}
	for _, a := range p.assets {
		if a.Token.Address() == addr {
			return a.Token, nil
		}
	}
	return nil, fmt.Errorf("token %s: %w", addr.Hex(), errs.ErrInvalidAsset)
}

func (p *Protocol) TokenBySymbol(symbol string) (*ledger.Token, error) {
	if symbol == p.Stable.Symbol() {
		return p.Stable, nil
	}
	for _, a := range p.assets {
		if a.Token.Symbol() == symbol {
			return a.Token, nil
		}
	}
	return nil, fmt.Errorf("token %s: %w", symbol, errs.ErrInvalidAsset)
}

type AssetSummary struct {
	registry.Asset
	Symbol   string       `json:"symbol"`
	Decimals uint8        `json:"decimals"`
	Custody  *uint256.Int `json:"custody"`
}

type Summary struct {
	Admin         common.Address `json:"admin"`
	Vault         common.Address `json:"vault"`
	Stable        common.Address `json:"stable"`
	TotalDebt     *uint256.Int   `json:"totalDebt"`
	StableSupply  *uint256.Int   `json:"stableSupply"`
	Positions     int            `json:"positions"`
	OpenPositions int            `json:"openPositions"`
	BonusBps      uint64         `json:"liquidationBonusBps"`
	Limits        guard.Limits   `json:"limits"`
	Assets        []AssetSummary `json:"assets"`
}

func (p *Protocol) Summary() Summary {
	all := p.Vault.Positions()
	open := 0
	for _, pos := range all {
		if pos.State == vault.StateOpen {
			open++
		}
	}

	s := Summary{
		Admin:         p.Admin.Address(),
		Vault:         p.Vault.Address(),
		Stable:        p.Stable.Address(),
		TotalDebt:     p.Debt.TotalDebt(),
		StableSupply:  p.Stable.TotalSupply(),
		Positions:     len(all),
		OpenPositions: open,
		BonusBps:      p.Liquidation.BonusBps(),
		Limits:        p.Guard.Limits(),
	}
	for _, a := range p.Registry.Assets() {
		as := AssetSummary{Asset: a, Custody: new(uint256.Int)}
		if token, err := p.Token(a.Address); err == nil {
			as.Symbol = token.Symbol()
			as.Decimals = token.Decimals()
			as.Custody = token.BalanceOf(p.Vault.Address())
		}
		s.Assets = append(s.Assets, as)
	}
	sort.Slice(s.Assets, func(i, j int) bool { return s.Assets[i].Symbol < s.Assets[j].Symbol })
	return s
}
