// Package feed delivers live price ticks from the trading server's
// websocket stream. A single read loop serializes delivery, so ticks for a
// given symbol reach the tracker in order.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gaplocker/internal/model"
)

// Handler receives each decoded tick on the delivery path. It must be fast
// and must not block on I/O.
type Handler func(symbol string, tick model.Tick)

// tickMessage is the wire format of one tick.
type tickMessage struct {
	Symbol string  `json:"symbol"`
	Ts     int64   `json:"ts"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
}

// WS is a reconnecting websocket tick source.
type WS struct {
	url          string
	pingInterval time.Duration
	handler      Handler
}

// NewWS creates a websocket feed delivering to handler.
func NewWS(url string, pingInterval time.Duration, handler Handler) *WS {
	return &WS{url: url, pingInterval: pingInterval, handler: handler}
}

// Run connects and consumes ticks until the context is cancelled,
// reconnecting with backoff on any stream error.
func (f *WS) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if err := f.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Dur("backoff", backoff).Msg("Tick stream lost, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (f *WS) consume(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.Info().Str("url", f.url).Msg("Tick stream connected")

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go f.pingLoop(ctx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg tickMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("Skipping undecodable tick message")
			continue
		}
		if msg.Symbol == "" {
			continue
		}

		f.handler(msg.Symbol, model.Tick{
			Timestamp: msg.Ts,
			Bid:       msg.Bid,
			Ask:       msg.Ask,
		})
	}
}

func (f *WS) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
