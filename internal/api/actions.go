package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/argenta/argenta-backend/internal/calc"
	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/events"
	"github.com/argenta/argenta-backend/internal/ledger"
	"github.com/argenta/argenta-backend/internal/prices"
	"github.com/argenta/argenta-backend/internal/protocol"
	"github.com/argenta/argenta-backend/internal/session"
	"github.com/argenta/argenta-backend/internal/store"
	"github.com/argenta/argenta-backend/internal/vault"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
)

// action is one protocol operation shared by REST and JSON-RPC. Mutating
// actions require a caller.
type action struct {
	mutates bool
	run     func(h *Handler, ctx context.Context, caller common.Address, p ActionParams) (any, error)
}

var actions = map[string]action{
	"openVault":          {true, (*Handler).openVault},
	"addCollateral":      {true, (*Handler).addCollateral},
	"withdrawCollateral": {true, (*Handler).withdrawCollateral},
	"borrow":             {true, (*Handler).borrow},
	"repay":              {true, (*Handler).repay},
	"closeVault":         {true, (*Handler).closeVault},
	"liquidate":          {true, (*Handler).liquidate},
	"setFeed":            {true, (*Handler).setFeed},
	"setCollateral":      {true, (*Handler).setCollateral},
	"approve":            {true, (*Handler).approve},
	"grantPermission":    {true, (*Handler).grantPermission},
	"revokePermission":   {true, (*Handler).revokePermission},
	"execute":            {true, (*Handler).execute},

	"getProtocol":    {false, (*Handler).getProtocol},
	"getAssets":      {false, (*Handler).getAssets},
	"getPrice":       {false, (*Handler).getPrice},
	"getPosition":    {false, (*Handler).getPosition},
	"getPositions":   {false, (*Handler).getPositions},
	"getHealth":      {false, (*Handler).getHealth},
	"getBalance":     {false, (*Handler).getBalance},
	"getPermissions": {false, (*Handler).getPermissions},
	"getEvents":      {false, (*Handler).getEvents},
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), errBadRequest)
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, badRequest("%s %q is not a hex address", field, s)
	}
	return common.HexToAddress(s), nil
}

// resolveToken accepts a token address or symbol.
func (h *Handler) resolveToken(s string) (*ledger.Token, error) {
	if s == "" {
		return nil, badRequest("asset is required")
	}
	if common.IsHexAddress(s) {
		return h.protocol.Token(common.HexToAddress(s))
	}
	return h.protocol.TokenBySymbol(strings.ToUpper(s))
}

func parseAmount(s string, decimals uint8) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount is required: %w", errs.ErrInvalidAmount)
	}
	return calc.ParseAmount(s, decimals)
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

func (h *Handler) openVault(ctx context.Context, caller common.Address, _ ActionParams) (any, error) {
	id, err := h.protocol.Vault.OpenVault(ctx, caller)
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx, id)
	return OpenPositionResponse{ID: id}, nil
}

func (h *Handler) addCollateral(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	token, err := h.resolveToken(p.Asset)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.Amount, token.Decimals())
	if err != nil {
		return nil, err
	}
	if err := h.protocol.Vault.AddCollateral(ctx, caller, p.ID, token.Address(), amount); err != nil {
		return nil, err
	}
	h.invalidate(ctx, p.ID)
	return h.positionView(ctx, p.ID, false)
}

func (h *Handler) withdrawCollateral(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	token, err := h.resolveToken(p.Asset)
	if err != nil {
		return nil, err
	}
	amount, err := parseAmount(p.Amount, token.Decimals())
	if err != nil {
		return nil, err
	}
	if err := h.protocol.Vault.WithdrawCollateral(ctx, caller, p.ID, token.Address(), amount); err != nil {
		return nil, err
	}
	h.invalidate(ctx, p.ID)
	return h.positionView(ctx, p.ID, false)
}

func (h *Handler) borrow(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	amount, err := parseAmount(p.Amount, h.protocol.Stable.Decimals())
	if err != nil {
		return nil, err
	}
	if err := h.protocol.Vault.Borrow(ctx, caller, p.ID, amount); err != nil {
		return nil, err
	}
	h.invalidate(ctx, p.ID)
	return h.positionView(ctx, p.ID, false)
}

func (h *Handler) repay(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	amount, err := parseAmount(p.Amount, h.protocol.Stable.Decimals())
	if err != nil {
		return nil, err
	}
	repaid, err := h.protocol.Vault.Repay(ctx, caller, p.ID, amount)
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx, p.ID)
	return RepayResponse{Repaid: repaid}, nil
}

func (h *Handler) closeVault(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	if err := h.protocol.Vault.CloseVault(ctx, caller, p.ID); err != nil {
		return nil, err
	}
	h.invalidate(ctx, p.ID)
	return h.positionView(ctx, p.ID, false)
}

func (h *Handler) liquidate(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	seizure, err := h.protocol.Liquidation.Liquidate(ctx, caller, p.ID)
	if err != nil {
		return nil, err
	}
	h.invalidate(ctx, p.ID)
	h.metrics.RecordLiquidation(ctx, "api")
	return seizure, nil
}

func (h *Handler) setFeed(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	token, err := h.resolveToken(p.Asset)
	if err != nil {
		return nil, err
	}
	if p.ProviderSymbol == "" {
		return nil, badRequest("providerSymbol is required")
	}
	decimals := p.Decimals
	if decimals == 0 {
		decimals = prices.DefaultFeedDecimals
	}
	src := prices.NewFeedSource(h.protocol.Provider, strings.ToUpper(p.ProviderSymbol), decimals)
	if err := h.protocol.Oracle.SetFeed(ctx, caller, token.Address(), src, decimals, boolOr(p.Active, true)); err != nil {
		return nil, err
	}
	h.forgetSummary(ctx)
	return h.getPrice(ctx, caller, ActionParams{Asset: token.Address().Hex()})
}

func (h *Handler) setCollateral(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	token, err := h.resolveToken(p.Asset)
	if err != nil {
		return nil, err
	}
	depositCap, err := parseAmount(p.DepositCap, token.Decimals())
	if err != nil {
		return nil, err
	}
	if err := h.protocol.Registry.SetCollateral(ctx, caller, token.Address(), p.MinRatioBps, p.LiqThresholdBps, depositCap, boolOr(p.Active, true)); err != nil {
		return nil, err
	}
	h.forgetSummary(ctx)
	// Deactivation is a valid update, so report parameters regardless of the active flag.
	params, ok := h.protocol.Registry.Lookup(token.Address())
	if !ok {
		return nil, fmt.Errorf("asset %s not registered: %w", token.Address().Hex(), errs.ErrInvalidAsset)
	}
	return params, nil
}

func (h *Handler) approve(_ context.Context, caller common.Address, p ActionParams) (any, error) {
	token, err := h.resolveToken(p.Asset)
	if err != nil {
		return nil, err
	}
	spender := h.protocol.Vault.Address()
	if p.Spender != "" {
		if spender, err = parseAddress("spender", p.Spender); err != nil {
			return nil, err
		}
	}
	amount, err := parseAmount(p.Amount, token.Decimals())
	if err != nil {
		return nil, err
	}
	if err := token.Approve(caller, spender, amount); err != nil {
		return nil, err
	}
	return h.balanceView(token, caller), nil
}

func (h *Handler) grantPermission(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	target, err := parseAddress("target", p.Target)
	if err != nil {
		return nil, err
	}
	sel, err := parseSelector(p.Selector)
	if err != nil {
		return nil, err
	}
	var expiry time.Time
	if p.Expiry != nil {
		expiry = p.Expiry.UTC()
	}
	id, err := h.protocol.Verifier.GrantPermission(ctx, caller, target, sel, expiry)
	if err != nil {
		return nil, err
	}
	g, err := h.protocol.Verifier.Grant(id)
	if err != nil {
		return nil, err
	}
	return grantView(g), nil
}

func (h *Handler) revokePermission(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	if err := h.protocol.Verifier.RevokePermission(ctx, caller, p.ID); err != nil {
		return nil, err
	}
	g, err := h.protocol.Verifier.Grant(p.ID)
	if err != nil {
		return nil, err
	}
	return grantView(g), nil
}

func (h *Handler) execute(ctx context.Context, caller common.Address, p ActionParams) (any, error) {
	onBehalfOf, err := parseAddress("onBehalfOf", p.OnBehalfOf)
	if err != nil {
		return nil, err
	}
	target, err := parseAddress("target", p.Target)
	if err != nil {
		return nil, err
	}
	out, err := h.protocol.Executor.Execute(ctx, caller, onBehalfOf, target, p.Data)
	if err != nil {
		return nil, err
	}
	return ExecuteResponse{Result: out}, nil
}

func (h *Handler) getProtocol(ctx context.Context, _ common.Address, _ ActionParams) (any, error) {
	var summary protocol.Summary
	if h.cache != nil {
		if err := h.cache.GetProtocolSummary(ctx, &summary); err == nil {
			return summary, nil
		}
	}
	summary = h.protocol.Summary()
	if h.cache != nil {
		if err := h.cache.SetProtocolSummary(ctx, summary); err != nil {
			h.logger.Debugw("Failed to cache protocol summary", "error", err)
		}
	}
	return summary, nil
}

func (h *Handler) getAssets(context.Context, common.Address, ActionParams) (any, error) {
	symbols := make(map[common.Address]string)
	for _, a := range h.protocol.Assets() {
		symbols[a.Token.Address()] = a.ProviderSymbol
	}
	summary := h.protocol.Summary()
	out := make([]AssetDTO, 0, len(summary.Assets))
	for _, a := range summary.Assets {
		out = append(out, AssetDTO{AssetSummary: a, ProviderSymbol: symbols[a.Address]})
	}
	return out, nil
}

// getPrice reads the oracle. Concurrent requests for one asset share a read.
func (h *Handler) getPrice(ctx context.Context, _ common.Address, p ActionParams) (any, error) {
	token, err := h.resolveToken(p.Asset)
	if err != nil {
		return nil, err
	}
	v, err, _ := h.priceGroup.Do(token.Address().Hex(), func() (any, error) {
		price, updatedAt, err := h.protocol.Oracle.GetPrice(ctx, token.Address())
		if err != nil {
			return nil, err
		}
		return PriceDTO{
			Asset:     token.Address(),
			Symbol:    token.Symbol(),
			Price:     price,
			Display:   calc.ToDecimal(price, 18),
			UpdatedAt: updatedAt,
			AsOf:      time.Now().Unix(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (h *Handler) getPosition(ctx context.Context, _ common.Address, p ActionParams) (any, error) {
	return h.positionView(ctx, p.ID, true)
}

func (h *Handler) getPositions(ctx context.Context, _ common.Address, p ActionParams) (any, error) {
	var list []vault.Position
	if p.Owner != "" {
		owner, err := parseAddress("owner", p.Owner)
		if err != nil {
			return nil, err
		}
		list = h.protocol.Vault.PositionsByOwner(owner)
	} else {
		list = h.protocol.Vault.Positions()
	}
	out := make([]PositionDTO, 0, len(list))
	for _, pos := range list {
		out = append(out, h.toPositionDTO(pos))
	}
	return out, nil
}

func (h *Handler) getHealth(ctx context.Context, _ common.Address, p ActionParams) (any, error) {
	return h.protocol.Vault.Health(ctx, p.ID)
}

func (h *Handler) getBalance(_ context.Context, _ common.Address, p ActionParams) (any, error) {
	token, err := h.resolveToken(p.Asset)
	if err != nil {
		return nil, err
	}
	account, err := parseAddress("account", p.Account)
	if err != nil {
		return nil, err
	}
	return h.balanceView(token, account), nil
}

func (h *Handler) getPermissions(_ context.Context, _ common.Address, p ActionParams) (any, error) {
	owner, err := parseAddress("owner", p.Owner)
	if err != nil {
		return nil, err
	}
	grants := h.protocol.Verifier.GrantsBy(owner)
	out := make([]GrantDTO, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantView(g))
	}
	return out, nil
}

func (h *Handler) getEvents(ctx context.Context, _ common.Address, p ActionParams) (any, error) {
	if h.events == nil {
		return nil, fmt.Errorf("event store not configured: %w", errs.ErrInvalidState)
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	var (
		recs []events.Record
		err  error
	)
	if p.Position != nil {
		recs, err = h.events.PositionEvents(ctx, *p.Position, 0)
		recs = after(recs, p.After, limit)
	} else {
		recs, err = h.events.EventsAfter(ctx, p.After, limit)
	}
	if err != nil {
		return nil, err
	}

	resp := EventsResponse{Events: recs, Next: p.After}
	if n := len(recs); n > 0 {
		resp.Next = recs[n-1].Seq
	}
	if resp.Events == nil {
		resp.Events = []events.Record{}
	}
	return resp, nil
}

func after(recs []events.Record, seq uint64, limit int) []events.Record {
	out := make([]events.Record, 0, len(recs))
	for _, r := range recs {
		if r.Seq > seq {
			out = append(out, r)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// positionView returns the position with its valuation when withHealth is
// set. A failed valuation is reported inline rather than failing the read.
func (h *Handler) positionView(ctx context.Context, id uint64, withHealth bool) (PositionDTO, error) {
	var dto PositionDTO
	cached := false
	if h.cache != nil && withHealth {
		cached = h.cache.GetPosition(ctx, id, &dto) == nil
	}
	if !cached {
		pos, err := h.protocol.Vault.Position(id)
		if err != nil {
			return PositionDTO{}, err
		}
		dto = h.toPositionDTO(pos)
		if h.cache != nil {
			if err := h.cache.SetPosition(ctx, id, dto); err != nil {
				h.logger.Debugw("Failed to cache position", "position_id", id, "error", err)
			}
		}
	}
	if withHealth && dto.State == vault.StateOpen {
		val, err := h.protocol.Vault.Health(ctx, id)
		if err != nil {
			dto.HealthError = err.Error()
		} else {
			dto.Health = &val
		}
	}
	return dto, nil
}

// invalidate drops cached views of position id and the protocol summary
// before the event sink gets to them.
func (h *Handler) invalidate(ctx context.Context, id uint64) {
	if h.cache == nil {
		return
	}
	if err := h.cache.InvalidatePosition(ctx, id); err != nil {
		h.logger.Debugw("Failed to invalidate position", "position_id", id, "error", err)
	}
}

func (h *Handler) forgetSummary(ctx context.Context) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Delete(ctx, store.KeyProtocolSummary); err != nil {
		h.logger.Debugw("Failed to drop protocol summary", "error", err)
	}
}

func (h *Handler) toPositionDTO(pos vault.Position) PositionDTO {
	dto := PositionDTO{
		ID:         pos.ID,
		Owner:      pos.Owner,
		State:      pos.State,
		Principal:  pos.Principal,
		Collateral: []CollateralDTO{},
		OpenedAt:   pos.OpenedAt,
	}
	if !pos.ClosedAt.IsZero() {
		closed := pos.ClosedAt
		dto.ClosedAt = &closed
	}
	for _, asset := range pos.HeldAssets() {
		c := CollateralDTO{Asset: asset, Amount: pos.Collateral[asset]}
		if token, err := h.protocol.Token(asset); err == nil {
			c.Symbol = token.Symbol()
			c.Display = calc.ToDecimal(c.Amount, token.Decimals())
		}
		dto.Collateral = append(dto.Collateral, c)
	}
	return dto
}

func (h *Handler) balanceView(token *ledger.Token, account common.Address) BalanceDTO {
	bal := token.BalanceOf(account)
	return BalanceDTO{
		Asset:     token.Address(),
		Symbol:    token.Symbol(),
		Account:   account,
		Balance:   bal,
		Display:   calc.ToDecimal(bal, token.Decimals()),
		Allowance: token.Allowance(account, h.protocol.Vault.Address()),
	}
}

func parseSelector(s string) ([4]byte, error) {
	switch {
	case s == "":
		return [4]byte{}, badRequest("selector is required")
	case strings.HasPrefix(s, "0x"):
		sel, err := session.ParseSelector(s)
		if err != nil {
			return [4]byte{}, badRequest("selector %q: %v", s, err)
		}
		return sel, nil
	default:
		return session.Selector(s), nil
	}
}

func grantView(g session.Grant) GrantDTO {
	dto := GrantDTO{
		ID:       g.ID,
		Granter:  g.Granter,
		Target:   g.Target,
		Selector: session.SelectorHex(g.Selector),
		Revoked:  g.Revoked,
	}
	if !g.Expiry.IsZero() {
		exp := g.Expiry
		dto.Expiry = &exp
	}
	return dto
}
