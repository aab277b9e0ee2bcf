package debt

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/access"
	"github.com/argenta/argenta-backend/internal/calc"
	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/interest"
	"github.com/argenta/argenta-backend/internal/ledger"
	"github.com/argenta/argenta-backend/internal/uow"
)

var (
	admin      = common.HexToAddress("0xad")
	engineAddr = common.HexToAddress("0xde")
	vaultAddr  = common.HexToAddress("0x7a")
	alice      = common.HexToAddress("0xa1")
)

type fixture struct {
	engine *Engine
	stable *ledger.Token
	rec    *events.Recorder
	bus    *events.Bus
}

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), calc.WAD)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	bus := events.NewBus(zap.NewNop().Sugar())
	rec := events.NewRecorder()
	bus.Subscribe(rec)

	stable := ledger.NewToken(ledger.TokenConfig{
		Address:  common.HexToAddress("0x5a"),
		Symbol:   "USDa",
		Decimals: 18,
		Admin:    access.NewAdmin(admin),
	}, bus)
	require.NoError(t, stable.SetMinter(ctx, admin, engineAddr))

	irm, err := interest.New(uint256.NewInt(5e16))
	require.NoError(t, err)

	e := New(engineAddr, access.NewAdmin(admin), stable, irm, bus, zap.NewNop().Sugar())
	require.NoError(t, e.SetVault(ctx, admin, vaultAddr))
	rec.Reset()
	return &fixture{engine: e, stable: stable, rec: rec, bus: bus}
}

func (f *fixture) run(t *testing.T, now time.Time, fn func(tx *uow.Unit) error) error {
	t.Helper()
	return uow.Run(context.Background(), now, f.bus, fn)
}

func TestSetVault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.ErrorIs(t, f.engine.SetVault(ctx, alice, alice), errs.ErrUnauthorized)
	assert.ErrorIs(t, f.engine.SetVault(ctx, admin, common.Address{}), errs.ErrInvalidConfig)
	assert.Equal(t, vaultAddr, f.engine.Vault())
}

func TestOnlyVaultMutates(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1_700_000_000, 0)

	err := f.run(t, now, func(tx *uow.Unit) error {
		return f.engine.Mint(tx, alice, 1, alice, e18(1))
	})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	err = f.run(t, now, func(tx *uow.Unit) error {
		_, err := f.engine.Burn(tx, alice, 1, alice, e18(1))
		return err
	})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	err = f.run(t, now, func(tx *uow.Unit) error {
		return f.engine.AccrueInterest(tx, alice, 1)
	})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.True(t, f.engine.TotalDebt().IsZero())
}

func TestMintBurn(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, f.run(t, now, func(tx *uow.Unit) error {
		return f.engine.Mint(tx, vaultAddr, 1, alice, e18(500))
	}))
	assert.Equal(t, e18(500).Dec(), f.engine.Principal(1).Dec())
	assert.Equal(t, e18(500).Dec(), f.engine.TotalDebt().Dec())
	assert.Equal(t, e18(500).Dec(), f.stable.BalanceOf(alice).Dec())
	require.Len(t, f.rec.OfKind(events.KindDebtMinted), 1)

	var burned *uint256.Int
	require.NoError(t, f.run(t, now, func(tx *uow.Unit) error {
		var err error
		burned, err = f.engine.Burn(tx, vaultAddr, 1, alice, e18(200))
		return err
	}))
	assert.Equal(t, e18(200).Dec(), burned.Dec())
	assert.Equal(t, e18(300).Dec(), f.engine.Principal(1).Dec())
	assert.Equal(t, e18(300).Dec(), f.stable.BalanceOf(alice).Dec())

	// excess is capped to the outstanding principal
	require.NoError(t, f.run(t, now, func(tx *uow.Unit) error {
		var err error
		burned, err = f.engine.Burn(tx, vaultAddr, 1, alice, e18(1000))
		return err
	}))
	assert.Equal(t, e18(300).Dec(), burned.Dec())
	assert.True(t, f.engine.Principal(1).IsZero())
	assert.True(t, f.engine.TotalDebt().IsZero())
	assert.True(t, f.stable.BalanceOf(alice).IsZero())
	assert.True(t, f.engine.SumPrincipals().Eq(f.engine.TotalDebt()))
}

func TestBurnFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1_700_000_000, 0)
	bob := common.HexToAddress("0xb0")

	require.NoError(t, f.run(t, now, func(tx *uow.Unit) error {
		return f.engine.Mint(tx, vaultAddr, 1, alice, e18(100))
	}))
	f.rec.Reset()

	// bob holds no stable, so the burn leg fails after the principal moved
	err := f.run(t, now, func(tx *uow.Unit) error {
		_, err := f.engine.Burn(tx, vaultAddr, 1, bob, e18(50))
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, e18(100).Dec(), f.engine.Principal(1).Dec())
	assert.Equal(t, e18(100).Dec(), f.engine.TotalDebt().Dec())
	assert.Empty(t, f.rec.Events())
}

func TestMintRolledBackByLaterFailure(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(1_700_000_000, 0)

	err := f.run(t, now, func(tx *uow.Unit) error {
		if err := f.engine.Mint(tx, vaultAddr, 1, alice, e18(100)); err != nil {
			return err
		}
		return errs.ErrCapExceeded
	})
	assert.ErrorIs(t, err, errs.ErrCapExceeded)
	assert.True(t, f.engine.TotalDebt().IsZero())
	assert.True(t, f.stable.BalanceOf(alice).IsZero())
	assert.True(t, f.stable.TotalSupply().IsZero())
}

func TestAccrueInterest(t *testing.T) {
	f := newFixture(t)
	start := time.Unix(1_700_000_000, 0)

	require.NoError(t, f.run(t, start, func(tx *uow.Unit) error {
		return f.engine.Mint(tx, vaultAddr, 1, alice, e18(1000))
	}))

	later := start.Add(interest.SecondsPerYear * time.Second)
	require.NoError(t, f.run(t, later, func(tx *uow.Unit) error {
		return f.engine.AccrueInterest(tx, vaultAddr, 1)
	}))
	assert.Equal(t, e18(1050).Dec(), f.engine.Principal(1).Dec())
	assert.Equal(t, e18(1050).Dec(), f.engine.TotalDebt().Dec())
	acc, ok := f.engine.Account(1)
	require.True(t, ok)
	assert.Equal(t, later, acc.LastAccrual)

	evts := f.rec.OfKind(events.KindInterestAccrued)
	require.Len(t, evts, 1)
	assert.Equal(t, e18(50).Dec(), evts[0].Payload.(events.InterestAccrued).Interest.Dec())

	// same instant accrues nothing
	require.NoError(t, f.run(t, later, func(tx *uow.Unit) error {
		return f.engine.AccrueInterest(tx, vaultAddr, 1)
	}))
	assert.Len(t, f.rec.OfKind(events.KindInterestAccrued), 1)
}

func TestDebtAt(t *testing.T) {
	f := newFixture(t)
	start := time.Unix(1_700_000_000, 0)
	require.NoError(t, f.run(t, start, func(tx *uow.Unit) error {
		return f.engine.Mint(tx, vaultAddr, 1, alice, e18(1000))
	}))

	tests := []struct {
		name string
		id   uint64
		at   time.Time
		want *uint256.Int
	}{
		{"unknown position", 7, start, new(uint256.Int)},
		{"at last accrual", 1, start, e18(1000)},
		{"before last accrual", 1, start.Add(-time.Hour), e18(1000)},
		{"one year later", 1, start.Add(interest.SecondsPerYear * time.Second), e18(1050)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want.Dec(), f.engine.DebtAt(tt.id, tt.at).Dec())
		})
	}

	// previews leave the ledger untouched
	assert.Equal(t, e18(1000).Dec(), f.engine.Principal(1).Dec())
	assert.Equal(t, e18(1000).Dec(), f.engine.TotalDebt().Dec())
	acc, _ := f.engine.Account(1)
	assert.Equal(t, start, acc.LastAccrual)
	assert.Empty(t, f.rec.OfKind(events.KindInterestAccrued))
}

func TestAccrueInterestRollback(t *testing.T) {
	f := newFixture(t)
	start := time.Unix(1_700_000_000, 0)
	require.NoError(t, f.run(t, start, func(tx *uow.Unit) error {
		return f.engine.Mint(tx, vaultAddr, 1, alice, e18(1000))
	}))

	later := start.Add(24 * time.Hour)
	err := f.run(t, later, func(tx *uow.Unit) error {
		if err := f.engine.AccrueInterest(tx, vaultAddr, 1); err != nil {
			return err
		}
		return errs.ErrUndercollateralized
	})
	assert.ErrorIs(t, err, errs.ErrUndercollateralized)
	assert.Equal(t, e18(1000).Dec(), f.engine.Principal(1).Dec())
	acc, _ := f.engine.Account(1)
	assert.Equal(t, start, acc.LastAccrual)
}
