// Package errs defines the protocol error taxonomy. Every component wraps one
// of these sentinels with context so callers can classify failures with
// errors.Is regardless of which component rejected the action.
package errs

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidState        = errors.New("invalid state")
	ErrInvalidAsset        = errors.New("invalid asset")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrUndercollateralized = errors.New("undercollateralized")
	ErrCapExceeded         = errors.New("cap exceeded")
	ErrNotLiquidatable     = errors.New("not liquidatable")
	ErrInvalidConfig       = errors.New("invalid config")
	ErrPermissionDenied    = errors.New("permission denied")

	ErrInvalidAmount = errors.New("invalid amount")
	ErrNotFound      = errors.New("not found")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "UNAUTHORIZED"},
	{ErrInvalidState, "INVALID_STATE"},
	{ErrInvalidAsset, "INVALID_ASSET"},
	{ErrPriceUnavailable, "PRICE_UNAVAILABLE"},
	{ErrUndercollateralized, "UNDERCOLLATERALIZED"},
	{ErrCapExceeded, "CAP_EXCEEDED"},
	{ErrNotLiquidatable, "NOT_LIQUIDATABLE"},
	{ErrInvalidConfig, "INVALID_CONFIG"},
	{ErrPermissionDenied, "PERMISSION_DENIED"},
	{ErrInvalidAmount, "INVALID_AMOUNT"},
	{ErrNotFound, "NOT_FOUND"},
}

// Code returns the stable string code for err, or "INTERNAL" when err does
// not belong to the taxonomy.
func Code(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "INTERNAL"
}

// IsProtocol reports whether err wraps one of the taxonomy sentinels.
func IsProtocol(err error) bool {
	return Code(err) != "INTERNAL"
}
