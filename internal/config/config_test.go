package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(viper.New())
	require.NoError(t, err)

	assert.True(t, cfg.IsDev())
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, "mock", cfg.Prices.Provider)
	assert.Equal(t, 24*time.Hour, cfg.Protocol.MintWindow)
	assert.Equal(t, uint64(500), cfg.Protocol.LiquidationBonusBps)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.Security.CORSAllowedOrigins)

	rate, err := cfg.Protocol.AnnualRate()
	require.NoError(t, err)
	assert.Equal(t, "20000000000000000", rate.Dec())

	limits, err := cfg.Protocol.Limits()
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000000000000", limits.MaxTotalDebt.Dec())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ARG_ENV", "prod")
	t.Setenv("ARG_INTEREST_RATE", "0")
	t.Setenv("ARG_KEEPER_ENABLED", "true")
	t.Setenv("ARG_KEEPER_INTERVAL", "5s")

	cfg, err := load(viper.New())
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.True(t, cfg.Keeper.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Keeper.Interval)

	rate, err := cfg.Protocol.AnnualRate()
	require.NoError(t, err)
	assert.True(t, rate.IsZero())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad admin", "ARG_ADMIN_ADDRESS", "alice"},
		{"negative rate", "ARG_INTEREST_RATE", "-0.01"},
		{"garbage rate", "ARG_INTEREST_RATE", "five"},
		{"bad ceiling", "ARG_MAX_TOTAL_DEBT", "lots"},
		{"bonus over 100%", "ARG_LIQUIDATION_BONUS_BPS", "10001"},
		{"sub-second window", "ARG_MINT_WINDOW", "10ms"},
		{"unknown provider", "ARG_PRICE_PROVIDER", "chainlink"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := load(viper.New())
			assert.Error(t, err)
		})
	}
}

const sampleGenesis = `
components:
  vault: "0x0000000000000000000000000000000000000a01"
  debt_engine: "0x0000000000000000000000000000000000000a02"
  liquidation: "0x0000000000000000000000000000000000000a03"
  executor: "0x0000000000000000000000000000000000000a04"
stable:
  symbol: argusd
  address: "0x0000000000000000000000000000000000000b01"
  decimals: 18
collateral:
  - symbol: weth
    address: "0x0000000000000000000000000000000000000c01"
    decimals: 18
    min_ratio_bps: 15000
    liq_threshold_bps: 13000
    deposit_cap: "1000"
    active: true
    feed:
      provider_symbol: ethusdt
      decimals: 8
      mock_price: 2000
balances:
  - account: "0x0000000000000000000000000000000000000d01"
    symbol: WETH
    amount: "2.5"
`

func TestParseGenesis(t *testing.T) {
	g, err := ParseGenesis([]byte(sampleGenesis))
	require.NoError(t, err)

	assert.Equal(t, "ARGUSD", g.Stable.Symbol)
	require.Len(t, g.Collateral, 1)
	weth := g.Collateral[0]
	assert.Equal(t, "WETH", weth.Symbol)
	assert.Equal(t, "ETHUSDT", weth.Feed.ProviderSymbol)
	assert.Equal(t, uint64(15000), weth.MinRatioBps)
	assert.Equal(t, common.HexToAddress("0xc01"), weth.Addr())
	require.Len(t, g.Balances, 1)
	assert.Equal(t, "2.5", g.Balances[0].Amount)
}

func TestParseGenesisRejects(t *testing.T) {
	tests := []struct {
		name string
		edit func(g *Genesis)
	}{
		{"ratio order", func(g *Genesis) { g.Collateral[0].LiqThresholdBps = 16000 }},
		{"threshold at par", func(g *Genesis) { g.Collateral[0].LiqThresholdBps = 10000 }},
		{"bad component", func(g *Genesis) { g.Components.Vault = "vault" }},
		{"duplicate symbol", func(g *Genesis) { g.Collateral = append(g.Collateral, g.Collateral[0]) }},
		{"unknown balance symbol", func(g *Genesis) { g.Balances = []BalanceSpec{{Account: g.Components.Vault, Symbol: "DOGE", Amount: "1"}} }},
		{"stable balance", func(g *Genesis) { g.Balances = []BalanceSpec{{Account: g.Components.Vault, Symbol: "ARGUSD", Amount: "1"}} }},
		{"too precise balance", func(g *Genesis) { g.Balances = []BalanceSpec{{Account: g.Components.Vault, Symbol: "WBTC", Amount: "0.000000001"}} }},
		{"bad cap", func(g *Genesis) { g.Collateral[0].DepositCap = "-1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := DefaultGenesis()
			tt.edit(&g)
			assert.Error(t, g.validate())
		})
	}

	_, err := ParseGenesis([]byte("stable: {symbol: X}\nunknown_key: 1\n"))
	assert.Error(t, err)
}

func TestLoadGenesisFile(t *testing.T) {
	g, err := LoadGenesis("")
	require.NoError(t, err)
	assert.Len(t, g.Collateral, 2)

	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleGenesis), 0o600))
	g, err = LoadGenesis(path)
	require.NoError(t, err)
	assert.Len(t, g.Collateral, 1)

	_, err = LoadGenesis(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
