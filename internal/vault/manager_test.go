package vault

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/ledger"
)

func TestBorrowAgainstMinimumRatio(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))

	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(1000)))
	assert.Equal(t, e18(1000), f.stable.BalanceOf(alice))

	val, err := f.vault.Health(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, e18(2000), val.Value)
	assert.Equal(t, uint64(20000), val.RatioBps.Uint64())
	assert.True(t, val.MeetsMinimum())
	assert.False(t, val.Liquidatable())

	before := f.snapshot(id)
	err = f.vault.Borrow(f.ctx, alice, id, e18(600))
	assert.ErrorIs(t, err, errs.ErrUndercollateralized)
	assert.Equal(t, before, f.snapshot(id))
	assert.Equal(t, e18(1000), f.stable.BalanceOf(alice))

	// 2000/1333 stays just above 150%.
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(333)))
	assert.Equal(t, e18(1333), f.debt.Principal(id))
}

func TestBorrowAtExactMinimum(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, amt("1500000000000000000"))

	// $3000 of collateral supports exactly $2000 at 150%.
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(2000)))
	err := f.vault.Borrow(f.ctx, alice, id, amt("1"))
	assert.ErrorIs(t, err, errs.ErrUndercollateralized)
}

func TestBorrowWithoutCollateral(t *testing.T) {
	f := newFixture(t)
	id, err := f.vault.OpenVault(f.ctx, alice)
	require.NoError(t, err)

	err = f.vault.Borrow(f.ctx, alice, id, e18(1))
	assert.ErrorIs(t, err, errs.ErrUndercollateralized)
	assert.True(t, f.debt.TotalDebt().IsZero())
}

func TestActionAuthorization(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	f.fund(bob, f.weth, e18(1))

	tests := []struct {
		name string
		run  func() error
		want error
	}{
		{"borrow by stranger", func() error { return f.vault.Borrow(f.ctx, bob, id, e18(1)) }, errs.ErrUnauthorized},
		{"deposit by stranger", func() error { return f.vault.AddCollateral(f.ctx, bob, id, wethAddr, e18(1)) }, errs.ErrUnauthorized},
		{"withdraw by stranger", func() error { return f.vault.WithdrawCollateral(f.ctx, bob, id, wethAddr, e18(1)) }, errs.ErrUnauthorized},
		{"repay by stranger", func() error { _, err := f.vault.Repay(f.ctx, bob, id, e18(1)); return err }, errs.ErrUnauthorized},
		{"close by stranger", func() error { return f.vault.CloseVault(f.ctx, bob, id) }, errs.ErrUnauthorized},
		{"unknown position", func() error { return f.vault.Borrow(f.ctx, alice, 99, e18(1)) }, errs.ErrNotFound},
		{"zero amount", func() error { return f.vault.Borrow(f.ctx, alice, id, new(uint256.Int)) }, errs.ErrInvalidAmount},
		{"nil amount", func() error { return f.vault.AddCollateral(f.ctx, alice, id, wethAddr, nil) }, errs.ErrInvalidAmount},
		{"seize by stranger", func() error {
			_, err := f.vault.Seize(f.ctx, bob, bob, id, func(Position, Valuation) (SeizurePlan, error) { return SeizurePlan{}, nil })
			return err
		}, errs.ErrUnauthorized},
		{"set liquidator by stranger", func() error { return f.vault.SetLiquidator(f.ctx, bob, bob) }, errs.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), tt.want)
		})
	}

	_, err := f.vault.OpenVault(f.ctx, common.Address{})
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
}

func TestClosedPositionRejectsActions(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.CloseVault(f.ctx, alice, id))

	p, err := f.vault.Position(id)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, p.State)
	assert.Equal(t, f.now, p.ClosedAt)
	assert.Empty(t, p.HeldAssets())

	f.fund(alice, f.weth, e18(1))
	tests := []struct {
		name string
		run  func() error
	}{
		{"deposit", func() error { return f.vault.AddCollateral(f.ctx, alice, id, wethAddr, e18(1)) }},
		{"borrow", func() error { return f.vault.Borrow(f.ctx, alice, id, e18(1)) }},
		{"repay", func() error { _, err := f.vault.Repay(f.ctx, alice, id, e18(1)); return err }},
		{"withdraw", func() error { return f.vault.WithdrawCollateral(f.ctx, alice, id, wethAddr, e18(1)) }},
		{"close", func() error { return f.vault.CloseVault(f.ctx, alice, id) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), errs.ErrInvalidState)
		})
	}
	assert.Empty(t, f.vault.OpenPositions())
}

func TestCloseWithDebtOutstanding(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(100)))

	err := f.vault.CloseVault(f.ctx, alice, id)
	assert.ErrorIs(t, err, errs.ErrInvalidState)

	p, err := f.vault.Position(id)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, p.State)
	assert.Equal(t, e18(1), p.Collateral[wethAddr])
}

func TestRoundTripRestoresBalances(t *testing.T) {
	f := newFixture(t)
	f.fund(alice, f.weth, e18(3))

	id, err := f.vault.OpenVault(f.ctx, alice)
	require.NoError(t, err)
	require.NoError(t, f.vault.AddCollateral(f.ctx, alice, id, wethAddr, e18(3)))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(2500)))
	assert.Equal(t, e18(3), f.weth.BalanceOf(vaultAddr))

	repaid, err := f.vault.Repay(f.ctx, alice, id, e18(2500))
	require.NoError(t, err)
	assert.Equal(t, e18(2500), repaid)
	require.NoError(t, f.vault.WithdrawCollateral(f.ctx, alice, id, wethAddr, e18(3)))
	require.NoError(t, f.vault.CloseVault(f.ctx, alice, id))

	assert.Equal(t, e18(3), f.weth.BalanceOf(alice))
	assert.True(t, f.stable.BalanceOf(alice).IsZero())
	assert.True(t, f.stable.TotalSupply().IsZero())
	assert.True(t, f.debt.TotalDebt().IsZero())
	assert.True(t, f.registry.TotalDeposited(wethAddr).IsZero())
	assert.True(t, f.weth.BalanceOf(vaultAddr).IsZero())
}

func TestCloseSweepsCollateral(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(2))
	f.fund(alice, f.wbtc, amt("50000000"))
	require.NoError(t, f.vault.AddCollateral(f.ctx, alice, id, wbtcAddr, amt("50000000")))

	require.NoError(t, f.vault.CloseVault(f.ctx, alice, id))
	assert.Equal(t, e18(2), f.weth.BalanceOf(alice))
	assert.Equal(t, amt("50000000"), f.wbtc.BalanceOf(alice))
	assert.True(t, f.registry.TotalDeposited(wbtcAddr).IsZero())

	kinds := make([]events.Kind, 0)
	for _, e := range f.recorder.Events() {
		kinds = append(kinds, e.Kind)
	}
	assert.Equal(t, []events.Kind{
		events.KindCollateralWithdrawn,
		events.KindCollateralWithdrawn,
		events.KindPositionClosed,
	}, kinds[len(kinds)-3:])
}

func TestRepayCapsAtPrincipal(t *testing.T) {
	f := newFixture(t)
	first := f.openWith(alice, f.weth, e18(1))
	second := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, first, e18(1000)))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, second, e18(200)))

	repaid, err := f.vault.Repay(f.ctx, alice, first, e18(1500))
	require.NoError(t, err)
	assert.Equal(t, e18(1000), repaid)
	assert.True(t, f.debt.Principal(first).IsZero())
	assert.Equal(t, e18(200), f.stable.BalanceOf(alice))
	assert.Equal(t, e18(200), f.debt.TotalDebt())

	burned := f.recorder.OfKind(events.KindDebtBurned)
	require.Len(t, burned, 1)
	assert.Equal(t, e18(1000), burned[0].Payload.(events.DebtBurned).Amount)

	repaid, err = f.vault.Repay(f.ctx, alice, first, e18(1))
	require.NoError(t, err)
	assert.True(t, repaid.IsZero())
}

func TestRepayWithoutStable(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(500)))
	require.NoError(t, f.stable.Transfer(alice, bob, e18(500)))

	before := f.snapshot(id)
	_, err := f.vault.Repay(f.ctx, alice, id, e18(500))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, before, f.snapshot(id))
}

func TestWithdrawKeepsMinimumRatio(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(1000)))

	tests := []struct {
		name   string
		amount *uint256.Int
		want   error
	}{
		{"leaves 140%", amt("300000000000000000"), errs.ErrUndercollateralized},
		{"more than held", e18(2), errs.ErrInvalidAmount},
		{"leaves nothing", e18(1), errs.ErrUndercollateralized},
		{"leaves 160%", amt("200000000000000000"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.snapshot(id)
			err := f.vault.WithdrawCollateral(f.ctx, alice, id, wethAddr, tt.amount)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
				assert.Equal(t, before, f.snapshot(id))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, amt("800000000000000000"), f.registry.TotalDeposited(wethAddr))
			assert.Equal(t, amt("200000000000000000"), f.weth.BalanceOf(alice))
		})
	}
}

func TestDepositCaps(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fixtureOpts)
		want   error
	}{
		{"registry cap", func(o *fixtureOpts) { o.wethCap = e18(2) }, errs.ErrCapExceeded},
		{"zero registry cap", func(o *fixtureOpts) { o.wethCap = new(uint256.Int) }, errs.ErrCapExceeded},
		{"guard per-asset cap", func(o *fixtureOpts) { o.limits.MaxPerAssetDeposit = e18(2) }, errs.ErrCapExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			id, err := f.vault.OpenVault(f.ctx, alice)
			require.NoError(t, err)
			f.fund(alice, f.weth, e18(3))

			err = f.vault.AddCollateral(f.ctx, alice, id, wethAddr, e18(3))
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, f.registry.TotalDeposited(wethAddr).IsZero())
			assert.Equal(t, e18(3), f.weth.BalanceOf(alice))
			assert.Empty(t, f.recorder.OfKind(events.KindCollateralAdded))
		})
	}
}

func TestAddCollateralRollsBackWithoutAllowance(t *testing.T) {
	f := newFixture(t)
	id, err := f.vault.OpenVault(f.ctx, alice)
	require.NoError(t, err)
	require.NoError(t, f.weth.Mint(adminAddr, alice, e18(1)))

	err = f.vault.AddCollateral(f.ctx, alice, id, wethAddr, e18(1))
	assert.ErrorIs(t, err, ledger.ErrInsufficientAllowance)

	p, err := f.vault.Position(id)
	require.NoError(t, err)
	assert.Empty(t, p.HeldAssets())
	assert.True(t, f.registry.TotalDeposited(wethAddr).IsZero())
}

func TestAddCollateralUnknownAsset(t *testing.T) {
	f := newFixture(t)
	id, err := f.vault.OpenVault(f.ctx, alice)
	require.NoError(t, err)

	err = f.vault.AddCollateral(f.ctx, alice, id, common.HexToAddress("0xdead"), e18(1))
	assert.ErrorIs(t, err, errs.ErrInvalidAsset)

	require.NoError(t, f.registry.SetCollateral(f.ctx, adminAddr, wethAddr, 15000, 13000, e18(1000), false))
	f.fund(alice, f.weth, e18(1))
	err = f.vault.AddCollateral(f.ctx, alice, id, wethAddr, e18(1))
	assert.ErrorIs(t, err, errs.ErrInvalidAsset)
}

func TestBorrowSafetyCeilings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fixtureOpts)
	}{
		{"window mint", func(o *fixtureOpts) { o.limits.MaxWindowMint = e18(500) }},
		{"total debt", func(o *fixtureOpts) { o.limits.MaxTotalDebt = e18(500) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			id := f.openWith(alice, f.weth, e18(1))

			require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(400)))
			before := f.snapshot(id)
			window := f.guard.WindowState()

			err := f.vault.Borrow(f.ctx, alice, id, e18(200))
			assert.ErrorIs(t, err, errs.ErrCapExceeded)
			assert.Equal(t, before, f.snapshot(id))
			assert.Equal(t, window, f.guard.WindowState())
		})
	}
}

func TestMintWindowResets(t *testing.T) {
	f := newFixture(t, func(o *fixtureOpts) {
		o.limits.MaxWindowMint = e18(500)
		o.limits.Window = time.Hour
	})
	id := f.openWith(alice, f.weth, e18(2))

	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(500)))
	assert.ErrorIs(t, f.vault.Borrow(f.ctx, alice, id, e18(1)), errs.ErrCapExceeded)

	f.now = f.now.Add(time.Hour)
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(500)))
}

func TestStrictestThresholdGoverns(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	f.fund(alice, f.wbtc, amt("1000000"))
	require.NoError(t, f.vault.AddCollateral(f.ctx, alice, id, wbtcAddr, amt("1000000")))

	val, err := f.vault.Health(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, e18(2600), val.Value)
	assert.Equal(t, uint64(15000), val.MinRatioBps)
	assert.Equal(t, uint64(13000), val.LiqThresholdBps)
	require.Len(t, val.Assets, 2)

	// 2600/1800 clears WBTC's 120% but not WETH's 150%.
	err = f.vault.Borrow(f.ctx, alice, id, e18(1800))
	assert.ErrorIs(t, err, errs.ErrUndercollateralized)
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(1700)))
}

func TestInterestCapitalizesOnAction(t *testing.T) {
	f := newFixture(t, func(o *fixtureOpts) {
		o.annualRate = amt("50000000000000000") // 5%
	})
	id := f.openWith(alice, f.weth, e18(2))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(1000)))

	f.now = f.now.Add(365 * 24 * time.Hour)
	repaid, err := f.vault.Repay(f.ctx, alice, id, e18(1000))
	require.NoError(t, err)
	assert.Equal(t, e18(1000), repaid)
	assert.Equal(t, e18(50), f.debt.Principal(id))
	assert.Equal(t, e18(50), f.debt.TotalDebt())

	accrued := f.recorder.OfKind(events.KindInterestAccrued)
	require.Len(t, accrued, 1)
	assert.Equal(t, e18(50), accrued[0].Payload.(events.InterestAccrued).Interest)

	p, err := f.vault.Position(id)
	require.NoError(t, err)
	assert.Equal(t, f.now, p.LastAccrual)
}

func TestHealthIncludesAccruedInterest(t *testing.T) {
	f := newFixture(t, func(o *fixtureOpts) {
		o.annualRate = amt("50000000000000000") // 5%
	})
	id := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(1300)))
	f.ethFeed.SetAnswer(1700_0000_0000)

	val, err := f.vault.Health(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(13076), val.RatioBps.Uint64())
	assert.False(t, val.Liquidatable())

	// A year of interest alone takes 1300 to 1365 and 1700/1365 under 130%.
	f.now = f.now.Add(365 * 24 * time.Hour)
	val, err = f.vault.Health(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, e18(1365), val.Debt)
	assert.Equal(t, uint64(12454), val.RatioBps.Uint64())
	assert.True(t, val.Liquidatable())

	assert.Equal(t, e18(1300), f.debt.Principal(id))
	assert.Empty(t, f.recorder.OfKind(events.KindInterestAccrued))
}

func TestStalePriceBlocksBorrow(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))

	f.ethFeed.SetError(assert.AnError)
	err := f.vault.Borrow(f.ctx, alice, id, e18(1))
	assert.ErrorIs(t, err, errs.ErrPriceUnavailable)

	f.ethFeed.SetError(nil)
	f.ethFeed.SetAnswer(0)
	err = f.vault.Borrow(f.ctx, alice, id, e18(1))
	assert.ErrorIs(t, err, errs.ErrPriceUnavailable)
}

func TestSeizeRollsBackWhenLiquidatorCannotPay(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(1000)))

	before := f.snapshot(id)
	_, err := f.vault.Seize(f.ctx, liquidatorAddr, bob, id, func(p Position, _ Valuation) (SeizurePlan, error) {
		return SeizurePlan{ToLiquidator: p.Collateral}, nil
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, before, f.snapshot(id))
	assert.Empty(t, f.recorder.OfKind(events.KindLiquidated))
}

func TestSeizeRejectsUnbalancedPlan(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(1000)))

	_, err := f.vault.Seize(f.ctx, liquidatorAddr, bob, id, func(Position, Valuation) (SeizurePlan, error) {
		return SeizurePlan{ToLiquidator: map[common.Address]*uint256.Int{wethAddr: e18(2)}}, nil
	})
	assert.ErrorIs(t, err, errs.ErrInvalidState)
}

func TestSeizeTransfersCollateral(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(1000)))
	require.NoError(t, f.stable.Transfer(alice, bob, e18(1000)))

	seizure, err := f.vault.Seize(f.ctx, liquidatorAddr, bob, id, func(p Position, _ Valuation) (SeizurePlan, error) {
		return SeizurePlan{
			ToLiquidator: map[common.Address]*uint256.Int{wethAddr: amt("600000000000000000")},
			ToOwner:      map[common.Address]*uint256.Int{wethAddr: amt("400000000000000000")},
		}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, e18(1000), seizure.DebtRepaid)
	assert.Equal(t, amt("600000000000000000"), f.weth.BalanceOf(bob))
	assert.Equal(t, amt("400000000000000000"), f.weth.BalanceOf(alice))
	assert.True(t, f.stable.BalanceOf(bob).IsZero())

	p, err := f.vault.Position(id)
	require.NoError(t, err)
	assert.Equal(t, StateOpen, p.State)
	assert.Empty(t, p.HeldAssets())
	assert.True(t, p.Principal.IsZero())
	require.Len(t, f.recorder.OfKind(events.KindLiquidated), 1)
}

func TestEventSequence(t *testing.T) {
	f := newFixture(t)
	id := f.openWith(alice, f.weth, e18(1))
	require.NoError(t, f.vault.Borrow(f.ctx, alice, id, e18(10)))

	evts := f.recorder.Events()
	require.Len(t, evts, 3)
	assert.Equal(t, events.KindPositionOpened, evts[0].Kind)
	assert.Equal(t, events.KindCollateralAdded, evts[1].Kind)
	assert.Equal(t, events.KindDebtMinted, evts[2].Kind)
	for i := 1; i < len(evts); i++ {
		assert.Greater(t, evts[i].Seq, evts[i-1].Seq)
	}
	added := evts[1].Payload.(events.CollateralMoved)
	assert.Equal(t, e18(1), added.TotalDeposited)
}

func TestConcurrentBorrowsKeepTotals(t *testing.T) {
	f := newFixture(t)
	const n = 16
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = f.openWith(alice, f.weth, e18(1))
	}

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return f.vault.Borrow(f.ctx, alice, id, e18(100))
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, e18(100*n), f.debt.TotalDebt())
	assert.Equal(t, f.debt.TotalDebt(), f.debt.SumPrincipals())
	assert.Equal(t, f.stable.TotalSupply(), f.debt.TotalDebt())
	assert.Equal(t, e18(n), f.vault.CollateralTotals()[wethAddr])
	assert.Len(t, f.vault.PositionsByOwner(alice), n)
}

func TestSetLiquidatorRejectsZero(t *testing.T) {
	f := newFixture(t)
	err := f.vault.SetLiquidator(f.ctx, adminAddr, common.Address{})
	assert.ErrorIs(t, err, errs.ErrInvalidConfig)
	assert.Equal(t, liquidatorAddr, f.vault.Liquidator())
}
