// Package events defines the protocol's observable events and the bus that
// fans committed events out to sinks (log, journal, repository, pubsub).
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Kind string

const (
	KindPositionOpened          Kind = "position_opened"
	KindPositionClosed          Kind = "position_closed"
	KindCollateralAdded         Kind = "collateral_added"
	KindCollateralWithdrawn     Kind = "collateral_withdrawn"
	KindDebtMinted              Kind = "debt_minted"
	KindDebtBurned              Kind = "debt_burned"
	KindInterestAccrued         Kind = "interest_accrued"
	KindFeedUpdated             Kind = "feed_updated"
	KindCollateralParamsUpdated Kind = "collateral_params_updated"
	KindLiquidated              Kind = "liquidated"
	KindVaultSet                Kind = "vault_set"
	KindMinterSet               Kind = "minter_set"
	KindLiquidatorSet           Kind = "liquidator_set"
	KindPermissionGranted       Kind = "permission_granted"
	KindPermissionRevoked       Kind = "permission_revoked"
	KindCallExecuted            Kind = "call_executed"
)

// Event is a committed protocol event. Seq is assigned by the Bus and is
// strictly increasing across the process lifetime.
type Event struct {
	Seq     uint64    `json:"seq"`
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Record is the persisted form of an Event with the payload kept as raw JSON.
type Record struct {
	Seq     uint64          `json:"seq"`
	Kind    Kind            `json:"kind"`
	Time    time.Time       `json:"time"`
	Payload json.RawMessage `json:"payload"`
}

func (e Event) Record() (Record, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
	}
	return Record{Seq: e.Seq, Kind: e.Kind, Time: e.Time, Payload: raw}, nil
}

// PositionID extracts the positionId field most payloads carry.
func (r Record) PositionID() (uint64, bool) {
	var probe struct {
		PositionID *uint64 `json:"positionId"`
	}
	if err := json.Unmarshal(r.Payload, &probe); err != nil || probe.PositionID == nil {
		return 0, false
	}
	return *probe.PositionID, true
}

type PositionOpened struct {
	PositionID uint64         `json:"positionId"`
	Owner      common.Address `json:"owner"`
}

type PositionClosed struct {
	PositionID uint64         `json:"positionId"`
	Owner      common.Address `json:"owner"`
}

// CollateralMoved is the payload of both CollateralAdded and
// CollateralWithdrawn. Balance and TotalDeposited are post-action values.
type CollateralMoved struct {
	PositionID     uint64         `json:"positionId"`
	Owner          common.Address `json:"owner"`
	Asset          common.Address `json:"asset"`
	Amount         *uint256.Int   `json:"amount"`
	Balance        *uint256.Int   `json:"balance"`
	TotalDeposited *uint256.Int   `json:"totalDeposited"`
}

type DebtMinted struct {
	PositionID uint64         `json:"positionId"`
	Owner      common.Address `json:"owner"`
	Amount     *uint256.Int   `json:"amount"`
	Principal  *uint256.Int   `json:"principal"`
	TotalDebt  *uint256.Int   `json:"totalDebt"`
}

type DebtBurned struct {
	PositionID uint64         `json:"positionId"`
	Payer      common.Address `json:"payer"`
	Amount     *uint256.Int   `json:"amount"`
	Principal  *uint256.Int   `json:"principal"`
	TotalDebt  *uint256.Int   `json:"totalDebt"`
}

type InterestAccrued struct {
	PositionID uint64       `json:"positionId"`
	Interest   *uint256.Int `json:"interest"`
	Principal  *uint256.Int `json:"principal"`
	TotalDebt  *uint256.Int `json:"totalDebt"`
	Elapsed    uint64       `json:"elapsedSeconds"`
}

type FeedUpdated struct {
	Asset    common.Address `json:"asset"`
	Source   string         `json:"source"`
	Decimals uint8          `json:"decimals"`
	Active   bool           `json:"active"`
}

type CollateralParamsUpdated struct {
	Asset           common.Address `json:"asset"`
	MinRatioBps     uint64         `json:"minRatioBps"`
	LiqThresholdBps uint64         `json:"liqThresholdBps"`
	DepositCap      *uint256.Int   `json:"depositCap"`
	Active          bool           `json:"active"`
}

type AssetAmount struct {
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

type Liquidated struct {
	PositionID      uint64         `json:"positionId"`
	Owner           common.Address `json:"owner"`
	Liquidator      common.Address `json:"liquidator"`
	DebtRepaid      *uint256.Int   `json:"debtRepaid"`
	CollateralValue *uint256.Int   `json:"collateralValue"`
	RatioBps        *uint256.Int   `json:"ratioBps"`
	ThresholdBps    uint64         `json:"thresholdBps"`
	Seized          []AssetAmount  `json:"seized"`
	Returned        []AssetAmount  `json:"returned"`
	TotalDebt       *uint256.Int   `json:"totalDebt"`
}

// Wired records a component wiring change (vault, minter, liquidator).
type Wired struct {
	Component string         `json:"component"`
	Target    common.Address `json:"target"`
}

type PermissionGranted struct {
	PermissionID uint64         `json:"permissionId"`
	Granter      common.Address `json:"granter"`
	Target       common.Address `json:"target"`
	Selector     string         `json:"selector"`
	Expiry       int64          `json:"expiry"`
}

type PermissionRevoked struct {
	PermissionID uint64         `json:"permissionId"`
	Granter      common.Address `json:"granter"`
}

type CallExecuted struct {
	Agent      common.Address `json:"agent"`
	OnBehalfOf common.Address `json:"onBehalfOf"`
	Target     common.Address `json:"target"`
	Selector   string         `json:"selector"`
}

var payloadTypes = map[Kind]func() any{
	KindPositionOpened:          func() any { return new(PositionOpened) },
	KindPositionClosed:          func() any { return new(PositionClosed) },
	KindCollateralAdded:         func() any { return new(CollateralMoved) },
	KindCollateralWithdrawn:     func() any { return new(CollateralMoved) },
	KindDebtMinted:              func() any { return new(DebtMinted) },
	KindDebtBurned:              func() any { return new(DebtBurned) },
	KindInterestAccrued:         func() any { return new(InterestAccrued) },
	KindFeedUpdated:             func() any { return new(FeedUpdated) },
	KindCollateralParamsUpdated: func() any { return new(CollateralParamsUpdated) },
	KindLiquidated:              func() any { return new(Liquidated) },
	KindVaultSet:                func() any { return new(Wired) },
	KindMinterSet:               func() any { return new(Wired) },
	KindLiquidatorSet:           func() any { return new(Wired) },
	KindPermissionGranted:       func() any { return new(PermissionGranted) },
	KindPermissionRevoked:       func() any { return new(PermissionRevoked) },
	KindCallExecuted:            func() any { return new(CallExecuted) },
}

// Decode turns a persisted record back into an Event with a typed pointer
// payload.
func Decode(r Record) (Event, error) {
	newPayload, ok := payloadTypes[r.Kind]
	if !ok {
		return Event{}, fmt.Errorf("unknown event kind %q", r.Kind)
	}
	payload := newPayload()
	if err := json.Unmarshal(r.Payload, payload); err != nil {
		return Event{}, fmt.Errorf("decode %s payload: %w", r.Kind, err)
	}
	return Event{Seq: r.Seq, Kind: r.Kind, Time: r.Time, Payload: payload}, nil
}
