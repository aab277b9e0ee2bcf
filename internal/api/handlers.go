package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/argenta/argenta-backend/internal/errs"
	"github.com/argenta/argenta-backend/internal/protocol"
	"github.com/argenta/argenta-backend/internal/repository"
	"github.com/argenta/argenta-backend/internal/store"
	"github.com/argenta/argenta-backend/internal/ws"
)

// CallerHeader carries the address a request acts as.
const CallerHeader = "X-Caller"

// MetricsInterface defines the interface for metrics recording
type MetricsInterface interface {
	RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration)
	RecordAction(ctx context.Context, action, result string)
	RecordLiquidation(ctx context.Context, source string)
}

type Handler struct {
	protocol   *protocol.Protocol
	events     repository.EventStore
	wsHub      *ws.Hub
	sseHandler *ws.SSEHandler
	cache      *store.Cache
	logger     *zap.SugaredLogger
	metrics    MetricsInterface
	priceGroup singleflight.Group
}

func NewHandler(
	p *protocol.Protocol,
	eventStore repository.EventStore,
	wsHub *ws.Hub,
	sseHandler *ws.SSEHandler,
	cache *store.Cache,
	logger *zap.SugaredLogger,
	metrics MetricsInterface,
) *Handler {
	return &Handler{
		protocol:   p,
		events:     eventStore,
		wsHub:      wsHub,
		sseHandler: sseHandler,
		cache:      cache,
		logger:     logger,
		metrics:    metrics,
	}
}

// invoke runs the named action. Mutating actions take their caller from
// callerHex and are counted by result.
func (h *Handler) invoke(ctx context.Context, name, callerHex string, p ActionParams) (any, error) {
	act, ok := actions[name]
	if !ok {
		return nil, badRequest("unknown action %q", name)
	}

	var caller common.Address
	if act.mutates {
		if !common.IsHexAddress(callerHex) {
			return nil, fmt.Errorf("missing or malformed %s header: %w", CallerHeader, errs.ErrUnauthorized)
		}
		caller = common.HexToAddress(callerHex)
	}

	result, err := act.run(h, ctx, caller, p)
	if act.mutates {
		label := "ok"
		if err != nil {
			label = strings.ToLower(errorCode(err))
		}
		h.metrics.RecordAction(ctx, name, label)
	}
	if err != nil {
		h.logger.Debugw("Action failed", "action", name, "caller", caller.Hex(), "error", err)
		return nil, err
	}
	return result, nil
}

func (h *Handler) do(w http.ResponseWriter, r *http.Request, name string, p ActionParams) {
	result, err := h.invoke(r.Context(), name, r.Header.Get(CallerHeader), p)
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	status := http.StatusOK
	if name == "openVault" {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, result)
}

// decodeBody fills p from a JSON body. An empty body is allowed.
func decodeBody(r *http.Request, p *ActionParams) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func uintParam(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("%s %q is not an unsigned integer", name, raw)
	}
	return v, nil
}

func uintQuery(r *http.Request, name string) (*uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, badRequest("%s %q is not an unsigned integer", name, raw)
	}
	return &v, nil
}

// Protocol endpoints
func (h *Handler) GetProtocol(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "getProtocol", ActionParams{})
}

func (h *Handler) GetAssets(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "getAssets", ActionParams{})
}

func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "getPrice", ActionParams{Asset: chi.URLParam(r, "asset")})
}

// Position endpoints
func (h *Handler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "openVault", ActionParams{})
}

func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.do(w, r, "getPosition", ActionParams{ID: id})
}

func (h *Handler) GetPositionHealth(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.do(w, r, "getHealth", ActionParams{ID: id})
}

func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "getPositions", ActionParams{Owner: r.URL.Query().Get("owner")})
}

var positionActions = map[string]string{
	"collateral": "addCollateral",
	"withdraw":   "withdrawCollateral",
	"borrow":     "borrow",
	"repay":      "repay",
	"close":      "closeVault",
	"liquidate":  "liquidate",
}

func (h *Handler) PositionAction(w http.ResponseWriter, r *http.Request) {
	name, ok := positionActions[chi.URLParam(r, "action")]
	if !ok {
		h.writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("unknown position action %q", chi.URLParam(r, "action")))
		return
	}
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	var p ActionParams
	if err := decodeBody(r, &p); err != nil {
		h.writeFailure(w, err)
		return
	}
	p.ID = id
	h.do(w, r, name, p)
}

// Admin endpoints
func (h *Handler) SetFeed(w http.ResponseWriter, r *http.Request) {
	var p ActionParams
	if err := decodeBody(r, &p); err != nil {
		h.writeFailure(w, err)
		return
	}
	p.Asset = chi.URLParam(r, "asset")
	h.do(w, r, "setFeed", p)
}

func (h *Handler) SetCollateral(w http.ResponseWriter, r *http.Request) {
	var p ActionParams
	if err := decodeBody(r, &p); err != nil {
		h.writeFailure(w, err)
		return
	}
	p.Asset = chi.URLParam(r, "asset")
	h.do(w, r, "setCollateral", p)
}

// Token endpoints
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	var p ActionParams
	if err := decodeBody(r, &p); err != nil {
		h.writeFailure(w, err)
		return
	}
	p.Asset = chi.URLParam(r, "asset")
	h.do(w, r, "approve", p)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "getBalance", ActionParams{
		Asset:   chi.URLParam(r, "asset"),
		Account: chi.URLParam(r, "account"),
	})
}

// Session endpoints
func (h *Handler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	var p ActionParams
	if err := decodeBody(r, &p); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.do(w, r, "grantPermission", p)
}

func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.do(w, r, "revokePermission", ActionParams{ID: id})
}

func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, "getPermissions", ActionParams{Owner: r.URL.Query().Get("granter")})
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var p ActionParams
	if err := decodeBody(r, &p); err != nil {
		h.writeFailure(w, err)
		return
	}
	h.do(w, r, "execute", p)
}

// Event history
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	var p ActionParams
	after, err := uintQuery(r, "after")
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	if after != nil {
		p.After = *after
	}
	if p.Position, err = uintQuery(r, "position"); err != nil {
		h.writeFailure(w, err)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.writeFailure(w, badRequest("limit %q is not an integer", raw))
			return
		}
		p.Limit = limit
	}
	h.do(w, r, "getEvents", p)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// Readyz reports whether the cache and event store answer.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	var reasons []string
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			reasons = append(reasons, "cache: "+err.Error())
		}
	}
	if h.events != nil {
		if err := h.events.Ping(ctx); err != nil {
			reasons = append(reasons, "events: "+err.Error())
		}
	}
	if len(reasons) > 0 {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "reasons": reasons})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("READY"))
}

// WebSocket endpoint
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHub.HandleWebSocket(w, r)
}

// SSE endpoint
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	h.sseHandler.HandleSSE(w, r)
}

// Utility methods
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeFailure(w http.ResponseWriter, err error) {
	code := errorCode(err)
	h.writeError(w, statusFor(code), code, err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Errorw("API error", "code", code, "message", message, "status", status)
	} else {
		h.logger.Debugw("API error", "code", code, "message", message, "status", status)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
