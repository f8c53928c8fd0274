package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/sawpanic/gaplocker/internal/model"
	"github.com/sawpanic/gaplocker/internal/retry"
)

// MetricsCallback records one finished gateway call.
type MetricsCallback func(op, result string)

// Config holds HTTP gateway client settings.
type Config struct {
	BaseURL string
	APIKey  string
	RPS     float64
	Burst   int
	Timeout time.Duration
	Metrics MetricsCallback
}

// HTTPGateway talks JSON over REST to the trading-server gateway. A token
// bucket keeps the client under the gateway's rate budget and a circuit
// breaker sheds load when the gateway is down.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	metrics MetricsCallback
}

// NewHTTP creates a gateway client from config.
func NewHTTP(cfg Config) *HTTPGateway {
	st := gobreaker.Settings{Name: "trading-gateway"}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}

	return &HTTPGateway{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		metrics: cfg.Metrics,
	}
}

// InstrumentInfo fetches point size and digits for a symbol. A 404 is a
// configuration error and is never retried.
func (g *HTTPGateway) InstrumentInfo(ctx context.Context, symbol string) (model.Instrument, error) {
	var info model.Instrument
	err := g.call(ctx, "instrument_info", http.MethodGet,
		"/api/v1/symbols/"+url.PathEscape(symbol), nil, &info)
	return info, err
}

// OpenPositions fetches all open positions for the symbol matching the
// account-group mask.
func (g *HTTPGateway) OpenPositions(ctx context.Context, symbol, groupMask string) ([]model.Position, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	if groupMask != "" {
		q.Set("groups", groupMask)
	}

	var positions []model.Position
	err := g.call(ctx, "open_positions", http.MethodGet,
		"/api/v1/positions?"+q.Encode(), nil, &positions)
	return positions, err
}

// CreateOrders persists a batch of already-filled locking orders.
func (g *HTTPGateway) CreateOrders(ctx context.Context, orders []model.Order) ([]model.Result, error) {
	var results []model.Result
	err := g.call(ctx, "create_orders", http.MethodPost, "/api/v1/orders/batch", orders, &results)
	if err != nil {
		return nil, err
	}
	if len(results) != len(orders) {
		return nil, &Error{
			Op:    "create_orders",
			Class: retry.ClassRebuild,
			Err:   fmt.Errorf("batch result count mismatch: sent %d, got %d", len(orders), len(results)),
		}
	}
	return results, nil
}

// CreateDeals persists a batch of closing deals.
func (g *HTTPGateway) CreateDeals(ctx context.Context, deals []model.Deal) ([]model.Result, error) {
	var results []model.Result
	err := g.call(ctx, "create_deals", http.MethodPost, "/api/v1/deals/batch", deals, &results)
	if err != nil {
		return nil, err
	}
	if len(results) != len(deals) {
		return nil, &Error{
			Op:    "create_deals",
			Class: retry.ClassRebuild,
			Err:   fmt.Errorf("batch result count mismatch: sent %d, got %d", len(deals), len(results)),
		}
	}
	return results, nil
}

// FixPositions asks the gateway to recalculate one login's position state.
func (g *HTTPGateway) FixPositions(ctx context.Context, login uint64) error {
	return g.call(ctx, "fix_positions", http.MethodPost,
		fmt.Sprintf("/api/v1/accounts/%d/fix", login), nil, nil)
}

func (g *HTTPGateway) call(ctx context.Context, op, method, path string, body, out any) (err error) {
	if g.metrics != nil {
		defer func() {
			result := "ok"
			if err != nil {
				result = "error"
			}
			g.metrics(op, result)
		}()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Class: retry.ClassTransient, Err: err}
	}

	respBody, err := g.breaker.Execute(func() (any, error) {
		return g.do(ctx, op, method, path, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return &Error{Op: op, Class: retry.ClassTransient, Err: err}
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody.([]byte), out); err != nil {
		return &Error{Op: op, Class: retry.ClassRebuild, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (g *HTTPGateway) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Op: op, Class: retry.ClassFatal, Err: fmt.Errorf("encode request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return nil, &Error{Op: op, Class: retry.ClassFatal, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Class: retry.ClassTransient, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Class: retry.ClassTransient, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return data, nil
	case resp.StatusCode == http.StatusNoContent:
		// No-op success.
		return nil, nil
	case resp.StatusCode == http.StatusNotFound && op == "instrument_info":
		return nil, &Error{Op: op, Class: retry.ClassFatal, Err: ErrInstrumentNotFound}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Op: op, Class: retry.ClassRateLimited, Err: httpError(resp.StatusCode, data)}
	case resp.StatusCode >= 500:
		return nil, &Error{Op: op, Class: retry.ClassTransient, Err: httpError(resp.StatusCode, data)}
	case resp.StatusCode >= 400:
		return nil, &Error{Op: op, Class: retry.ClassRebuild, Err: httpError(resp.StatusCode, data)}
	default:
		log.Warn().Str("op", op).Int("status", resp.StatusCode).Msg("Unexpected gateway status")
		return nil, &Error{Op: op, Class: retry.ClassFatal, Err: httpError(resp.StatusCode, data)}
	}
}

func httpError(status int, body []byte) error {
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("HTTP %d: %s", status, msg)
}
