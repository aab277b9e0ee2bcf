package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/argenta/argenta-backend/internal/calc"
)

// Genesis is the initial protocol layout: component identities, the stable
// token, collateral tokens with their feeds and parameters, and seed balances.
type Genesis struct {
	Components Components       `yaml:"components"`
	Stable     TokenSpec        `yaml:"stable"`
	Collateral []CollateralSpec `yaml:"collateral"`
	Balances   []BalanceSpec    `yaml:"balances"`
}

// Components are the addresses each protocol component acts under.
type Components struct {
	Vault       string `yaml:"vault"`
	DebtEngine  string `yaml:"debt_engine"`
	Liquidation string `yaml:"liquidation"`
	Executor    string `yaml:"executor"`
}

type TokenSpec struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

type CollateralSpec struct {
	TokenSpec       `yaml:",inline"`
	MinRatioBps     uint64   `yaml:"min_ratio_bps"`
	LiqThresholdBps uint64   `yaml:"liq_threshold_bps"`
	DepositCap      string   `yaml:"deposit_cap"`
	Active          bool     `yaml:"active"`
	Feed            FeedSpec `yaml:"feed"`
}

type FeedSpec struct {
	// ProviderSymbol defaults to the price registry mapping for Symbol.
	ProviderSymbol string  `yaml:"provider_symbol"`
	Decimals       uint8   `yaml:"decimals"`
	MockPrice      float64 `yaml:"mock_price"`
}

type BalanceSpec struct {
	Account string `yaml:"account"`
	Symbol  string `yaml:"symbol"`
	Amount  string `yaml:"amount"`
}

// LoadGenesis reads a genesis file. An empty path yields DefaultGenesis.
func LoadGenesis(path string) (Genesis, error) {
	if path == "" {
		return DefaultGenesis(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, fmt.Errorf("open genesis: %w", err)
	}
	return ParseGenesis(raw)
}

func ParseGenesis(raw []byte) (Genesis, error) {
	var g Genesis
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		return Genesis{}, fmt.Errorf("decode genesis: %w", err)
	}
	g.normalize()
	if err := g.validate(); err != nil {
		return Genesis{}, err
	}
	return g, nil
}

// DefaultGenesis is the development layout: WETH and WBTC collateral, an
// 18-decimal stable and no seed balances.
func DefaultGenesis() Genesis {
	return Genesis{
		Components: Components{
			Vault:       "0x000000000000000000000000000000000000a001",
			DebtEngine:  "0x000000000000000000000000000000000000a002",
			Liquidation: "0x000000000000000000000000000000000000a003",
			Executor:    "0x000000000000000000000000000000000000a004",
		},
		Stable: TokenSpec{Symbol: "ARGUSD", Address: "0x000000000000000000000000000000000000b001", Decimals: 18},
		Collateral: []CollateralSpec{
			{
				TokenSpec:       TokenSpec{Symbol: "WETH", Address: "0x000000000000000000000000000000000000c001", Decimals: 18},
				MinRatioBps:     15000,
				LiqThresholdBps: 13000,
				DepositCap:      "100000",
				Active:          true,
				Feed:            FeedSpec{Decimals: 8, MockPrice: 2000},
			},
			{
				TokenSpec:       TokenSpec{Symbol: "WBTC", Address: "0x000000000000000000000000000000000000c002", Decimals: 8},
				MinRatioBps:     14000,
				LiqThresholdBps: 12000,
				DepositCap:      "5000",
				Active:          true,
				Feed:            FeedSpec{Decimals: 8, MockPrice: 60000},
			},
		},
	}
}

func (g *Genesis) normalize() {
	g.Stable.Symbol = strings.ToUpper(strings.TrimSpace(g.Stable.Symbol))
	for i := range g.Collateral {
		c := &g.Collateral[i]
		c.Symbol = strings.ToUpper(strings.TrimSpace(c.Symbol))
		c.Feed.ProviderSymbol = strings.ToUpper(strings.TrimSpace(c.Feed.ProviderSymbol))
	}
	for i := range g.Balances {
		g.Balances[i].Symbol = strings.ToUpper(strings.TrimSpace(g.Balances[i].Symbol))
	}
}

func (g Genesis) validate() error {
	components := map[string]string{
		"components.vault":       g.Components.Vault,
		"components.debt_engine": g.Components.DebtEngine,
		"components.liquidation": g.Components.Liquidation,
		"components.executor":    g.Components.Executor,
	}
	for name, addr := range components {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s %q is not a hex address", name, addr)
		}
	}
	if err := g.Stable.validate("stable"); err != nil {
		return err
	}

	symbols := map[string]uint8{g.Stable.Symbol: g.Stable.Decimals}
	for _, c := range g.Collateral {
		name := "collateral " + c.Symbol
		if err := c.TokenSpec.validate(name); err != nil {
			return err
		}
		if _, dup := symbols[c.Symbol]; dup {
			return fmt.Errorf("%s: duplicate symbol", name)
		}
		symbols[c.Symbol] = c.Decimals
		if err := calc.ValidateRatioOrder(c.MinRatioBps, c.LiqThresholdBps); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if _, err := calc.ParseAmount(c.DepositCap, c.Decimals); err != nil {
			return fmt.Errorf("%s: deposit_cap: %w", name, err)
		}
		if c.Feed.Decimals > 77 {
			return fmt.Errorf("%s: feed decimals %d unsupported", name, c.Feed.Decimals)
		}
	}

	for _, b := range g.Balances {
		if !common.IsHexAddress(b.Account) {
			return fmt.Errorf("balance account %q is not a hex address", b.Account)
		}
		decimals, ok := symbols[b.Symbol]
		if !ok {
			return fmt.Errorf("balance for unknown symbol %q", b.Symbol)
		}
		if b.Symbol == g.Stable.Symbol {
			return fmt.Errorf("stable balances can only be minted by borrowing")
		}
		if _, err := calc.ParseAmount(b.Amount, decimals); err != nil {
			return fmt.Errorf("balance %s for %s: %w", b.Symbol, b.Account, err)
		}
	}
	return nil
}

func (t TokenSpec) validate(name string) error {
	if t.Symbol == "" {
		return fmt.Errorf("%s: symbol required", name)
	}
	if !common.IsHexAddress(t.Address) {
		return fmt.Errorf("%s: address %q is not a hex address", name, t.Address)
	}
	if t.Decimals > 77 {
		return fmt.Errorf("%s: %d decimals unsupported", name, t.Decimals)
	}
	return nil
}

func (t TokenSpec) Addr() common.Address {
	return common.HexToAddress(t.Address)
}
