package vault

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/access"
	"github.com/argenta/argenta-backend/internal/debt"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/guard"
	"github.com/argenta/argenta-backend/internal/interest"
	"github.com/argenta/argenta-backend/internal/ledger"
	"github.com/argenta/argenta-backend/internal/oracle"
	"github.com/argenta/argenta-backend/internal/prices/mock"
	"github.com/argenta/argenta-backend/internal/registry"
)

var (
	adminAddr      = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	vaultAddr      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	debtAddr       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	liquidatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stableAddr     = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	wethAddr       = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	wbtcAddr       = common.HexToAddress("0x00000000000000000000000000000000000000c2")
	alice          = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	bob            = common.HexToAddress("0x00000000000000000000000000000000000000d2")
)

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func amt(s string) *uint256.Int {
	return uint256.MustFromDecimal(s)
}

type fixtureOpts struct {
	limits     guard.Limits
	wethCap    *uint256.Int
	annualRate *uint256.Int
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	now      time.Time
	recorder *events.Recorder
	stable   *ledger.Token
	weth     *ledger.Token
	wbtc     *ledger.Token
	ethFeed  *mock.Aggregator
	btcFeed  *mock.Aggregator
	registry *registry.Registry
	guard    *guard.Guard
	debt     *debt.Engine
	vault    *Manager
}

func defaultOpts() fixtureOpts {
	return fixtureOpts{
		limits: guard.Limits{
			MaxTotalDebt:       e18(1_000_000),
			MaxWindowMint:      e18(100_000),
			MaxPerAssetDeposit: e18(10_000),
		},
		wethCap:    e18(1_000),
		annualRate: new(uint256.Int),
	}
}

// newFixture wires a manager with WETH (150%/130%, $2000) and WBTC
// (120%/110%, $60000) collateral behind an 8-decimal feed each.
func newFixture(t *testing.T, mutate ...func(*fixtureOpts)) *fixture {
	t.Helper()
	opts := defaultOpts()
	for _, fn := range mutate {
		fn(&opts)
	}

	ctx := context.Background()
	logger := zap.NewNop().Sugar()
	admin := access.NewAdmin(adminAddr)

	f := &fixture{
		t:        t,
		ctx:      ctx,
		now:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		recorder: events.NewRecorder(),
	}
	bus := events.NewBus(logger)
	bus.Subscribe(f.recorder)
	clock := func() time.Time { return f.now }

	f.stable = ledger.NewToken(ledger.TokenConfig{Address: stableAddr, Symbol: "ARGUSD", Decimals: 18, Admin: admin, Minter: debtAddr}, bus)
	f.weth = ledger.NewToken(ledger.TokenConfig{Address: wethAddr, Symbol: "WETH", Decimals: 18, Admin: admin, Minter: adminAddr}, bus)
	f.wbtc = ledger.NewToken(ledger.TokenConfig{Address: wbtcAddr, Symbol: "WBTC", Decimals: 8, Admin: admin, Minter: adminAddr}, bus)

	f.registry = registry.New(admin, bus, logger)
	require.NoError(t, f.registry.SetCollateral(ctx, adminAddr, wethAddr, 15000, 13000, opts.wethCap, true))
	require.NoError(t, f.registry.SetCollateral(ctx, adminAddr, wbtcAddr, 12000, 11000, amt("100000000000"), true))

	f.ethFeed = mock.NewAggregator(2000_0000_0000, 8)
	f.btcFeed = mock.NewAggregator(60000_0000_0000, 8)
	router := oracle.NewRouter(admin, 0, bus, logger).WithClock(clock)
	require.NoError(t, router.SetFeed(ctx, adminAddr, wethAddr, f.ethFeed, 8, true))
	require.NoError(t, router.SetFeed(ctx, adminAddr, wbtcAddr, f.btcFeed, 8, true))

	g, err := guard.New(opts.limits)
	require.NoError(t, err)
	f.guard = g

	irm, err := interest.New(opts.annualRate)
	require.NoError(t, err)
	f.debt = debt.New(debtAddr, admin, f.stable, irm, bus, logger)
	require.NoError(t, f.debt.SetVault(ctx, adminAddr, vaultAddr))

	f.vault = NewManager(Config{
		Address:  vaultAddr,
		Admin:    admin,
		Registry: f.registry,
		Oracle:   router,
		Guard:    f.guard,
		Debt:     f.debt,
		Book:     ledger.NewBook(f.stable, f.weth, f.wbtc),
		Bus:      bus,
		Logger:   logger,
		Clock:    clock,
	})
	require.NoError(t, f.vault.SetLiquidator(ctx, adminAddr, liquidatorAddr))
	f.recorder.Reset()
	return f
}

// fund mints collateral to user and approves the manager for it.
func (f *fixture) fund(user common.Address, token *ledger.Token, amount *uint256.Int) {
	f.t.Helper()
	require.NoError(f.t, token.Mint(adminAddr, user, amount))
	allowance := new(uint256.Int).Add(token.Allowance(user, vaultAddr), amount)
	require.NoError(f.t, token.Approve(user, vaultAddr, allowance))
}

// openWith opens a position for user and deposits amount of token into it.
func (f *fixture) openWith(user common.Address, token *ledger.Token, amount *uint256.Int) uint64 {
	f.t.Helper()
	id, err := f.vault.OpenVault(f.ctx, user)
	require.NoError(f.t, err)
	f.fund(user, token, amount)
	require.NoError(f.t, f.vault.AddCollateral(f.ctx, user, id, token.Address(), amount))
	return id
}

// snapshot captures every balance a failed action must leave untouched.
type snapshot struct {
	position   Position
	totalDebt  *uint256.Int
	wethTotal  *uint256.Int
	custody    *uint256.Int
	stableSupp *uint256.Int
}

func (f *fixture) snapshot(id uint64) snapshot {
	f.t.Helper()
	p, err := f.vault.Position(id)
	require.NoError(f.t, err)
	return snapshot{
		position:   p,
		totalDebt:  f.debt.TotalDebt(),
		wethTotal:  f.registry.TotalDeposited(wethAddr),
		custody:    f.weth.BalanceOf(vaultAddr),
		stableSupp: f.stable.TotalSupply(),
	}
}
