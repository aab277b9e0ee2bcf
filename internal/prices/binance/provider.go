package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/argenta/argenta-backend/internal/prices"
)

const (
	BinanceRestAPI = "https://api.binance.com"
	BinanceWS      = "wss://stream.binance.com:9443/ws"
)

// Provider implements the prices.Provider interface for Binance
type Provider struct {
	logger  *zap.SugaredLogger
	client  *http.Client
	restURL string
	wsURL   string

	mu     sync.RWMutex
	health prices.ProviderHealth
}

// Option customizes a Provider.
type Option func(*Provider)

// WithEndpoints overrides the REST and stream base URLs.
func WithEndpoints(restURL, wsURL string) Option {
	return func(p *Provider) {
		if restURL != "" {
			p.restURL = strings.TrimRight(restURL, "/")
		}
		if wsURL != "" {
			p.wsURL = strings.TrimRight(wsURL, "/")
		}
	}
}

// NewProvider creates a new Binance provider
func NewProvider(logger *zap.SugaredLogger, opts ...Option) *Provider {
	p := &Provider{
		logger: logger,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		restURL: BinanceRestAPI,
		wsURL:   BinanceWS,
		health: prices.ProviderHealth{
			Healthy:     true,
			LastSuccess: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier
func (p *Provider) Name() string {
	return "binance"
}

// Health returns current provider health status
func (p *Provider) Health() prices.ProviderHealth {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.health
}

// updateHealth updates the provider health status
func (p *Provider) updateHealth(healthy bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.health.Healthy = healthy
	if healthy {
		p.health.LastSuccess = time.Now()
		p.health.LastError = ""
		p.health.Failures = 0
	} else if err != nil {
		p.health.LastError = err.Error()
		p.health.Failures++
	}
}

type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Quote fetches the latest traded price for a symbol
func (p *Provider) Quote(ctx context.Context, symbol string) (prices.Quote, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	requestURL := fmt.Sprintf("%s/api/v3/ticker/price?%s", p.restURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("failed to fetch from Binance: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("Binance API error: %d", resp.StatusCode)
		p.updateHealth(false, err)
		return prices.Quote{}, err
	}

	var tp tickerPrice
	if err := json.NewDecoder(resp.Body).Decode(&tp); err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("failed to decode response: %w", err)
	}

	price, err := decimal.NewFromString(tp.Price)
	if err != nil {
		p.updateHealth(false, err)
		return prices.Quote{}, fmt.Errorf("invalid price %q: %w", tp.Price, err)
	}
	if !price.IsPositive() {
		err := fmt.Errorf("non-positive price for %s", tp.Symbol)
		p.updateHealth(false, err)
		return prices.Quote{}, err
	}

	p.updateHealth(true, nil)
	p.logger.Debugw("Fetched price from Binance", "symbol", tp.Symbol, "price", price)

	return prices.Quote{Symbol: tp.Symbol, Price: price, Time: time.Now().UTC()}, nil
}

// miniTicker is the 24h rolling mini ticker stream payload
type miniTicker struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

// Stream pushes mini ticker closes for symbol to out until ctx is done or
// the connection fails.
func (p *Provider) Stream(ctx context.Context, symbol string, out chan<- prices.Quote) error {
	wsURL := fmt.Sprintf("%s/%s@miniTicker", p.wsURL, strings.ToLower(symbol))

	p.logger.Infow("Connecting to Binance WebSocket", "url", wsURL)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		p.updateHealth(false, err)
		return fmt.Errorf("failed to connect to Binance WebSocket: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	p.updateHealth(true, nil)

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.updateHealth(false, err)
			return fmt.Errorf("WebSocket read error: %w", err)
		}

		var t miniTicker
		if err := json.Unmarshal(message, &t); err != nil {
			p.logger.Warnw("Failed to parse ticker message", "error", err, "message", string(message))
			continue
		}
		price, err := decimal.NewFromString(t.Close)
		if err != nil {
			p.logger.Warnw("Failed to parse ticker price", "error", err, "price", t.Close)
			continue
		}

		q := prices.Quote{Symbol: t.Symbol, Price: price, Time: time.UnixMilli(t.EventTime).UTC()}

		// Send quote (non-blocking)
		select {
		case out <- q:
		case <-ctx.Done():
			return ctx.Err()
		default:
			p.logger.Debugw("Quote channel full, skipping", "symbol", symbol)
		}

		p.updateHealth(true, nil)
	}
}
