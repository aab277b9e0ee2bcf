package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/argenta/argenta-backend/internal/calc"
)

type Config struct {
	Env      string `mapstructure:"ARG_ENV"`
	LogLevel string `mapstructure:"ARG_LOG_LEVEL"`
	HTTPAddr string `mapstructure:"ARG_HTTP_ADDR"`

	ReadTimeout  time.Duration `mapstructure:"ARG_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"ARG_HTTP_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"ARG_HTTP_IDLE_TIMEOUT"`

	Protocol ProtocolConfig `mapstructure:",squash"`
	Keeper   KeeperConfig   `mapstructure:",squash"`
	Database DBConfig       `mapstructure:",squash"`
	Cache    CacheConfig    `mapstructure:",squash"`
	Oracle   OracleConfig   `mapstructure:",squash"`
	Prices   PriceConfig    `mapstructure:",squash"`
	Journal  JournalConfig  `mapstructure:",squash"`
	Security SecurityConfig `mapstructure:",squash"`
}

type ProtocolConfig struct {
	AdminAddress string `mapstructure:"ARG_ADMIN_ADDRESS"`
	// Amounts are decimal strings in whole stable units; the rate is an
	// annual fraction ("0.05" is 5%).
	InterestRate        string        `mapstructure:"ARG_INTEREST_RATE"`
	MaxTotalDebt        string        `mapstructure:"ARG_MAX_TOTAL_DEBT"`
	MaxWindowMint       string        `mapstructure:"ARG_MAX_WINDOW_MINT"`
	MaxPerAssetDeposit  string        `mapstructure:"ARG_MAX_PER_ASSET_DEPOSIT"`
	MintWindow          time.Duration `mapstructure:"ARG_MINT_WINDOW"`
	LiquidationBonusBps uint64        `mapstructure:"ARG_LIQUIDATION_BONUS_BPS"`
	GenesisPath         string        `mapstructure:"ARG_GENESIS_PATH"`
}

type KeeperConfig struct {
	Enabled  bool          `mapstructure:"ARG_KEEPER_ENABLED"`
	Interval time.Duration `mapstructure:"ARG_KEEPER_INTERVAL"`
	Address  string        `mapstructure:"ARG_KEEPER_ADDRESS"`
}

type DBConfig struct {
	PostgresDSN string `mapstructure:"ARG_POSTGRES_DSN"`
}

type CacheConfig struct {
	RedisAddr string `mapstructure:"ARG_REDIS_ADDR"`
}

type OracleConfig struct {
	MaxAge time.Duration `mapstructure:"ARG_ORACLE_MAX_AGE"`
}

type PriceConfig struct {
	Provider       string        `mapstructure:"ARG_PRICE_PROVIDER"`      // "binance", "mock"
	PollInterval   time.Duration `mapstructure:"ARG_PRICE_POLL_INTERVAL"` // Publisher tick
	MockVolatility float64       `mapstructure:"ARG_PRICE_MOCK_VOLATILITY"`
}

type JournalConfig struct {
	Dir              string `mapstructure:"ARG_JOURNAL_DIR"`
	SegmentThreshold int    `mapstructure:"ARG_JOURNAL_SEGMENT_THRESHOLD"`
	MaxSegments      int    `mapstructure:"ARG_JOURNAL_MAX_SEGMENTS"`
	SyncWrites       bool   `mapstructure:"ARG_JOURNAL_SYNC"`
}

type SecurityConfig struct {
	RateLimitRPM       int      `mapstructure:"ARG_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"ARG_CORS_ALLOWED_ORIGINS"`
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // ignore errors; env vars already set take precedence
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ARG_ENV", "dev")
	v.SetDefault("ARG_HTTP_ADDR", ":8080")
	v.SetDefault("ARG_HTTP_READ_TIMEOUT", "10s")
	v.SetDefault("ARG_HTTP_WRITE_TIMEOUT", "30s")
	v.SetDefault("ARG_HTTP_IDLE_TIMEOUT", "60s")
	v.SetDefault("ARG_ADMIN_ADDRESS", "0x00000000000000000000000000000000000a11ce")
	v.SetDefault("ARG_INTEREST_RATE", "0.02")
	v.SetDefault("ARG_MAX_TOTAL_DEBT", "100000000")
	v.SetDefault("ARG_MAX_WINDOW_MINT", "5000000")
	v.SetDefault("ARG_MAX_PER_ASSET_DEPOSIT", "1000000000")
	v.SetDefault("ARG_MINT_WINDOW", "24h")
	v.SetDefault("ARG_LIQUIDATION_BONUS_BPS", 500)
	v.SetDefault("ARG_GENESIS_PATH", "")
	v.SetDefault("ARG_KEEPER_ENABLED", false)
	v.SetDefault("ARG_KEEPER_INTERVAL", "15s")
	v.SetDefault("ARG_KEEPER_ADDRESS", "0x000000000000000000000000000000000000beef")
	v.SetDefault("ARG_POSTGRES_DSN", "")
	v.SetDefault("ARG_REDIS_ADDR", "")
	v.SetDefault("ARG_ORACLE_MAX_AGE", "1h")
	v.SetDefault("ARG_PRICE_PROVIDER", "mock")
	v.SetDefault("ARG_PRICE_POLL_INTERVAL", "10s")
	v.SetDefault("ARG_PRICE_MOCK_VOLATILITY", 0.002)
	v.SetDefault("ARG_JOURNAL_DIR", "")
	v.SetDefault("ARG_JOURNAL_SEGMENT_THRESHOLD", 1000)
	v.SetDefault("ARG_JOURNAL_MAX_SEGMENTS", 100)
	v.SetDefault("ARG_JOURNAL_SYNC", false)
	v.SetDefault("ARG_RATE_LIMIT_RPM", 600)
	v.SetDefault("ARG_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

func Load() (*Config, error) {
	loadDotEnvFiles()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// Handle array parsing for comma-separated values
	if origins := v.GetString("ARG_CORS_ALLOWED_ORIGINS"); origins != "" {
		v.Set("ARG_CORS_ALLOWED_ORIGINS", strings.Split(origins, ","))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !common.IsHexAddress(c.Protocol.AdminAddress) {
		return fmt.Errorf("ARG_ADMIN_ADDRESS %q is not a hex address", c.Protocol.AdminAddress)
	}
	if _, err := c.Protocol.AnnualRate(); err != nil {
		return fmt.Errorf("ARG_INTEREST_RATE: %w", err)
	}
	if _, err := c.Protocol.Limits(); err != nil {
		return err
	}
	if c.Protocol.LiquidationBonusBps > calc.BpsDenominator {
		return fmt.Errorf("ARG_LIQUIDATION_BONUS_BPS %d above %d", c.Protocol.LiquidationBonusBps, calc.BpsDenominator)
	}
	if c.Protocol.MintWindow != 0 && c.Protocol.MintWindow < time.Second {
		return fmt.Errorf("ARG_MINT_WINDOW %v below one second", c.Protocol.MintWindow)
	}
	switch c.Prices.Provider {
	case "mock", "binance":
	default:
		return fmt.Errorf("invalid ARG_PRICE_PROVIDER %q (must be mock or binance)", c.Prices.Provider)
	}
	if c.Keeper.Enabled {
		if !common.IsHexAddress(c.Keeper.Address) {
			return fmt.Errorf("ARG_KEEPER_ADDRESS %q is not a hex address", c.Keeper.Address)
		}
		if c.Keeper.Interval <= 0 {
			return fmt.Errorf("ARG_KEEPER_INTERVAL must be positive")
		}
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}

func (p ProtocolConfig) Admin() common.Address {
	return common.HexToAddress(p.AdminAddress)
}

// AnnualRate parses the rate into an 18-decimal fraction. Zero is allowed.
func (p ProtocolConfig) AnnualRate() (*uint256.Int, error) {
	return calc.ParseAmount(p.InterestRate, calc.PriceDecimals)
}

// Limits holds the guard ceilings in 18-decimal base units.
type Limits struct {
	MaxTotalDebt       *uint256.Int
	MaxWindowMint      *uint256.Int
	MaxPerAssetDeposit *uint256.Int
}

func (p ProtocolConfig) Limits() (Limits, error) {
	var out Limits
	fields := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"ARG_MAX_TOTAL_DEBT", p.MaxTotalDebt, &out.MaxTotalDebt},
		{"ARG_MAX_WINDOW_MINT", p.MaxWindowMint, &out.MaxWindowMint},
		{"ARG_MAX_PER_ASSET_DEPOSIT", p.MaxPerAssetDeposit, &out.MaxPerAssetDeposit},
	}
	for _, f := range fields {
		v, err := calc.ParseAmount(f.raw, 18)
		if err != nil {
			return Limits{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = v
	}
	return out, nil
}

func (k KeeperConfig) Identity() common.Address {
	return common.HexToAddress(k.Address)
}
