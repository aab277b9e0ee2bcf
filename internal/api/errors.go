package api

import (
	"errors"
	"net/http"

	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/ledger"
)

const (
	codeInsufficientFunds = "INSUFFICIENT_FUNDS"
	codeBadRequest        = "BAD_REQUEST"
	codeInternal          = "INTERNAL"
)

// errBadRequest marks malformed input that never reached the protocol.
var errBadRequest = errors.New("bad request")

// JSON-RPC application error codes, one per taxonomy entry.
var rpcCodes = map[string]int{
	"UNAUTHORIZED":        -32001,
	"PERMISSION_DENIED":   -32002,
	"NOT_FOUND":           -32003,
	"INVALID_AMOUNT":      -32004,
	"INVALID_ASSET":       -32005,
	"INVALID_CONFIG":      -32006,
	"INVALID_STATE":       -32007,
	"UNDERCOLLATERALIZED": -32008,
	"CAP_EXCEEDED":        -32009,
	"NOT_LIQUIDATABLE":    -32010,
	"PRICE_UNAVAILABLE":   -32011,
	codeInsufficientFunds: -32012,
}

// errorCode classifies err into a stable string code.
func errorCode(err error) string {
	if errors.Is(err, errBadRequest) {
		return codeBadRequest
	}
	if errors.Is(err, ledger.ErrInsufficientBalance) || errors.Is(err, ledger.ErrInsufficientAllowance) {
		return codeInsufficientFunds
	}
	return errs.Code(err)
}

func statusFor(code string) int {
	switch code {
	case "UNAUTHORIZED", "PERMISSION_DENIED":
		return http.StatusForbidden
	case "NOT_FOUND":
		return http.StatusNotFound
	case "INVALID_AMOUNT", "INVALID_ASSET", "INVALID_CONFIG", codeBadRequest:
		return http.StatusBadRequest
	case "INVALID_STATE":
		return http.StatusConflict
	case "UNDERCOLLATERALIZED", "CAP_EXCEEDED", "NOT_LIQUIDATABLE", codeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case "PRICE_UNAVAILABLE":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func rpcCode(code string) int {
	if c, ok := rpcCodes[code]; ok {
		return c
	}
	if code == codeBadRequest {
		return JSONRPCInvalidParams
	}
	return JSONRPCInternalError
}
