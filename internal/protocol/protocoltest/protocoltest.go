// Package protocoltest builds a fully wired protocol over the default
// genesis with a pinned mock price provider.
package protocoltest

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/config"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/ledger"
	"github.com/argenta/argenta-backend/internal/prices/mock"
	"github.com/argenta/argenta-backend/internal/protocol"
)

var (
	Admin = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	Alice = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	Bob   = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	Carol = common.HexToAddress("0x00000000000000000000000000000000000000d3")
)

const (
	ETHSymbol = "ETHUSDT"
	BTCSymbol = "BTCUSDT"
)

// Env is a protocol plus handles tests commonly reach for.
type Env struct {
	T        *testing.T
	Ctx      context.Context
	Protocol *protocol.Protocol
	Prices   *mock.Generator
	Recorder *events.Recorder
	WETH     *ledger.Token
	WBTC     *ledger.Token
}

// ProtocolConfig is a zero-interest configuration with generous ceilings.
func ProtocolConfig() config.ProtocolConfig {
	return config.ProtocolConfig{
		AdminAddress:        Admin.Hex(),
		InterestRate:        "0",
		MaxTotalDebt:        "1000000",
		MaxWindowMint:       "100000",
		MaxPerAssetDeposit:  "100000",
		MintWindow:          24 * time.Hour,
		LiquidationBonusBps: 500,
	}
}

// New assembles the default genesis with ETH at $2000 and BTC at $60000.
// mutate may adjust the options before assembly.
func New(t *testing.T, mutate ...func(*protocol.Options)) *Env {
	t.Helper()
	logger := zap.NewNop().Sugar()
	gen := mock.NewGenerator(logger, map[string]float64{ETHSymbol: 2000, BTCSymbol: 60000}, 0)
	rec := events.NewRecorder()
	bus := events.NewBus(logger)
	bus.Subscribe(rec)

	opts := protocol.Options{
		Protocol: ProtocolConfig(),
		Genesis:  config.DefaultGenesis(),
		Provider: gen,
		Bus:      bus,
		Logger:   logger,
	}
	for _, fn := range mutate {
		fn(&opts)
	}

	ctx := context.Background()
	p, err := protocol.New(ctx, opts)
	require.NoError(t, err)

	env := &Env{T: t, Ctx: ctx, Protocol: p, Prices: gen, Recorder: rec}
	env.WETH, err = p.TokenBySymbol("WETH")
	require.NoError(t, err)
	env.WBTC, err = p.TokenBySymbol("WBTC")
	require.NoError(t, err)
	rec.Reset()
	return env
}

// Units scales a whole amount to token base units.
func Units(whole uint64, decimals uint8) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(whole), new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals))))
}

// Stable returns whole stable units at 18 decimals.
func Stable(whole uint64) *uint256.Int { return Units(whole, 18) }

// Fund mints amount of token to user and approves the vault for it.
func (e *Env) Fund(user common.Address, token *ledger.Token, amount *uint256.Int) {
	e.T.Helper()
	require.NoError(e.T, token.Mint(Admin, user, amount))
	vaultAddr := e.Protocol.Vault.Address()
	allowance := new(uint256.Int).Add(token.Allowance(user, vaultAddr), amount)
	require.NoError(e.T, token.Approve(user, vaultAddr, allowance))
}

// Open opens a position for user backed by amount of token.
func (e *Env) Open(user common.Address, token *ledger.Token, amount *uint256.Int) uint64 {
	e.T.Helper()
	id, err := e.Protocol.Vault.OpenVault(e.Ctx, user)
	require.NoError(e.T, err)
	e.Fund(user, token, amount)
	require.NoError(e.T, e.Protocol.Vault.AddCollateral(e.Ctx, user, id, token.Address(), amount))
	return id
}

// Borrow draws amount of stable on position id for user.
func (e *Env) Borrow(user common.Address, id uint64, amount *uint256.Int) {
	e.T.Helper()
	require.NoError(e.T, e.Protocol.Vault.Borrow(e.Ctx, user, id, amount))
}

// RequireInvariants fails the test if any accounting identity is broken.
func (e *Env) RequireInvariants() {
	e.T.Helper()
	require.NoError(e.T, e.Protocol.CheckInvariants())
}
