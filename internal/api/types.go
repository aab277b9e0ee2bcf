package api

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/protocol"
	"github.com/argenta/argenta-backend/internal/vault"
)

// Amounts in requests are decimal strings in whole token units ("1.5").
// Amounts in responses are base-unit integers as strings.

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AssetDTO struct {
	protocol.AssetSummary
	ProviderSymbol string `json:"providerSymbol"`
}

type PriceDTO struct {
	Asset     common.Address  `json:"asset"`
	Symbol    string          `json:"symbol"`
	Price     *uint256.Int    `json:"price"`
	Display   decimal.Decimal `json:"display"`
	UpdatedAt time.Time       `json:"updatedAt"`
	AsOf      int64           `json:"asOf"`
}

// ActionParams carries the arguments of every action. REST handlers fill
// it from the path and body, JSON-RPC from params. Fields an action does not
// use are ignored.
type ActionParams struct {
	ID     uint64 `json:"id,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Asset  string `json:"asset,omitempty"`
	Amount string `json:"amount,omitempty"`

	Spender string `json:"spender,omitempty"`
	Account string `json:"account,omitempty"`

	ProviderSymbol  string `json:"providerSymbol,omitempty"`
	Decimals        uint8  `json:"decimals,omitempty"`
	MinRatioBps     uint64 `json:"minRatioBps,omitempty"`
	LiqThresholdBps uint64 `json:"liqThresholdBps,omitempty"`
	DepositCap      string `json:"depositCap,omitempty"`
	Active          *bool  `json:"active,omitempty"`

	// Selector is 0x-prefixed 4 bytes or a signature such as
	// "transfer(address,uint256)".
	Target     string        `json:"target,omitempty"`
	Selector   string        `json:"selector,omitempty"`
	Expiry     *time.Time    `json:"expiry,omitempty"`
	OnBehalfOf string        `json:"onBehalfOf,omitempty"`
	Data       hexutil.Bytes `json:"data,omitempty"`

	After    uint64  `json:"after,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	Position *uint64 `json:"position,omitempty"`
}

type OpenPositionResponse struct {
	ID uint64 `json:"id"`
}

type RepayResponse struct {
	Repaid *uint256.Int `json:"repaid"`
}

type CollateralDTO struct {
	Asset   common.Address  `json:"asset"`
	Symbol  string          `json:"symbol"`
	Amount  *uint256.Int    `json:"amount"`
	Display decimal.Decimal `json:"display"`
}

type PositionDTO struct {
	ID          uint64           `json:"id"`
	Owner       common.Address   `json:"owner"`
	State       vault.State      `json:"state"`
	Principal   *uint256.Int     `json:"principal"`
	Collateral  []CollateralDTO  `json:"collateral"`
	OpenedAt    time.Time        `json:"openedAt"`
	ClosedAt    *time.Time       `json:"closedAt,omitempty"`
	Health      *vault.Valuation `json:"health,omitempty"`
	HealthError string           `json:"healthError,omitempty"`
}

type BalanceDTO struct {
	Asset     common.Address  `json:"asset"`
	Symbol    string          `json:"symbol"`
	Account   common.Address  `json:"account"`
	Balance   *uint256.Int    `json:"balance"`
	Display   decimal.Decimal `json:"display"`
	Allowance *uint256.Int    `json:"vaultAllowance"`
}

type GrantDTO struct {
	ID       uint64         `json:"id"`
	Granter  common.Address `json:"granter"`
	Target   common.Address `json:"target"`
	Selector string         `json:"selector"`
	Expiry   *time.Time     `json:"expiry,omitempty"`
	Revoked  bool           `json:"revoked"`
}

type ExecuteResponse struct {
	Result hexutil.Bytes `json:"result"`
}

type EventsResponse struct {
	Events []events.Record `json:"events"`
	Next   uint64          `json:"next"`
}
