package ledger

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/access"
	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
)

var (
	admin  = common.HexToAddress("0xad")
	minter = common.HexToAddress("0xde")
	alice  = common.HexToAddress("0xa1")
	bob    = common.HexToAddress("0xb0")
)

func newStable(t *testing.T) (*Token, *events.Recorder) {
	t.Helper()
	bus := events.NewBus(zap.NewNop().Sugar())
	rec := events.NewRecorder()
	bus.Subscribe(rec)
	tok := NewToken(TokenConfig{
		Address:  common.HexToAddress("0x5a"),
		Symbol:   "USDa",
		Decimals: 18,
		Admin:    access.NewAdmin(admin),
	}, bus)
	return tok, rec
}

func TestSetMinter(t *testing.T) {
	tok, rec := newStable(t)
	ctx := context.Background()

	assert.ErrorIs(t, tok.SetMinter(ctx, alice, minter), errs.ErrUnauthorized)
	assert.ErrorIs(t, tok.SetMinter(ctx, admin, common.Address{}), ErrZeroAddress)
	require.NoError(t, tok.SetMinter(ctx, admin, minter))
	assert.Equal(t, minter, tok.Minter())
	assert.Len(t, rec.OfKind(events.KindMinterSet), 1)
}

func TestMintBurn(t *testing.T) {
	tok, _ := newStable(t)
	require.NoError(t, tok.SetMinter(context.Background(), admin, minter))

	assert.ErrorIs(t, tok.Mint(alice, alice, uint256.NewInt(1)), errs.ErrUnauthorized)
	require.NoError(t, tok.Mint(minter, alice, uint256.NewInt(100)))
	assert.Equal(t, "100", tok.BalanceOf(alice).Dec())
	assert.Equal(t, "100", tok.TotalSupply().Dec())

	assert.ErrorIs(t, tok.Burn(minter, alice, uint256.NewInt(101)), ErrInsufficientBalance)
	require.NoError(t, tok.Burn(minter, alice, uint256.NewInt(40)))
	assert.Equal(t, "60", tok.BalanceOf(alice).Dec())
	assert.Equal(t, "60", tok.TotalSupply().Dec())
}

func TestTransferAndAllowance(t *testing.T) {
	tok, _ := newStable(t)
	require.NoError(t, tok.SetMinter(context.Background(), admin, minter))
	require.NoError(t, tok.Mint(minter, alice, uint256.NewInt(50)))

	assert.ErrorIs(t, tok.Transfer(alice, bob, uint256.NewInt(51)), ErrInsufficientBalance)
	assert.ErrorIs(t, tok.Transfer(alice, common.Address{}, uint256.NewInt(1)), ErrZeroAddress)
	require.NoError(t, tok.Transfer(alice, bob, uint256.NewInt(10)))
	assert.Equal(t, "40", tok.BalanceOf(alice).Dec())
	assert.Equal(t, "10", tok.BalanceOf(bob).Dec())

	// spender without allowance
	assert.ErrorIs(t, tok.TransferFrom(bob, alice, bob, uint256.NewInt(1)), ErrInsufficientAllowance)

	require.NoError(t, tok.Approve(alice, bob, uint256.NewInt(30)))
	require.NoError(t, tok.TransferFrom(bob, alice, bob, uint256.NewInt(20)))
	assert.Equal(t, "10", tok.Allowance(alice, bob).Dec())
	assert.Equal(t, "20", tok.BalanceOf(alice).Dec())

	// allowance covers it but balance does not; allowance is untouched
	require.NoError(t, tok.Approve(alice, bob, uint256.NewInt(100)))
	assert.ErrorIs(t, tok.TransferFrom(bob, alice, bob, uint256.NewInt(21)), ErrInsufficientBalance)
	assert.Equal(t, "100", tok.Allowance(alice, bob).Dec())
}

func TestBook(t *testing.T) {
	tok, _ := newStable(t)
	weth := NewToken(TokenConfig{Address: common.HexToAddress("0xe7"), Symbol: "WETH", Decimals: 18}, nil)
	book := NewBook(tok, weth)

	got, err := book.Get(weth.Address())
	require.NoError(t, err)
	assert.Equal(t, "WETH", got.Symbol())

	_, err = book.Get(common.HexToAddress("0x99"))
	assert.ErrorIs(t, err, errs.ErrInvalidAsset)

	all := book.All()
	require.Len(t, all, 2)
	assert.Equal(t, "USDa", all[0].Symbol())
}
