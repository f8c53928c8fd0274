// Package app wires the gap locker together: feed, session tracking,
// pricing, dispatch and the lock pipeline.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gaplocker/internal/config"
	"github.com/sawpanic/gaplocker/internal/dispatch"
	"github.com/sawpanic/gaplocker/internal/feed"
	"github.com/sawpanic/gaplocker/internal/gap"
	"github.com/sawpanic/gaplocker/internal/gateway"
	"github.com/sawpanic/gaplocker/internal/guard"
	httpops "github.com/sawpanic/gaplocker/internal/interfaces/http"
	"github.com/sawpanic/gaplocker/internal/journal"
	"github.com/sawpanic/gaplocker/internal/lockpipe"
	"github.com/sawpanic/gaplocker/internal/metrics"
	"github.com/sawpanic/gaplocker/internal/model"
	"github.com/sawpanic/gaplocker/internal/retry"
	"github.com/sawpanic/gaplocker/internal/session"
)

const housekeepingInterval = 30 * time.Second

// App is the running gap-locker service.
type App struct {
	configPath string

	registry   *session.Registry
	tracker    *session.Tracker
	dispatcher *dispatch.Dispatcher
	pipeline   *lockpipe.Pipeline
	gw         gateway.Gateway
	guard      guard.Guard
	journal    journal.Journal
	metrics    *metrics.Registry
	server     *httpops.Server
	feed       *feed.WS

	mu        sync.RWMutex
	groupMask string
}

// New builds the service from config. The config path is kept for SIGHUP
// reloads.
func New(cfg config.Config, configPath string) (*App, error) {
	a := &App{
		configPath: configPath,
		metrics:    metrics.New(),
		groupMask:  cfg.Groups,
	}

	a.registry = session.NewRegistry(cfg.ParseSymbolWindows(), config.ParseSkipDays(cfg.SkipDays))
	a.tracker = session.NewTracker(a.registry)

	a.gw = gateway.NewHTTP(gateway.Config{
		BaseURL: cfg.Gateway.URL,
		APIKey:  cfg.Gateway.APIKey,
		RPS:     cfg.Gateway.RPS,
		Burst:   cfg.Gateway.Burst,
		Timeout: cfg.Gateway.Timeout,
		Metrics: func(op, result string) {
			a.metrics.GatewayRequests.WithLabelValues(op, result).Inc()
		},
	})

	if cfg.Journal.Enabled {
		jnl, err := journal.Open(cfg.Journal.DSN, cfg.Journal.Timeout)
		if err != nil {
			return nil, err
		}
		a.journal = jnl
	} else {
		a.journal = journal.Nop{}
	}

	if cfg.Guard.Enabled {
		a.guard = guard.New(cfg.Guard.Addr, cfg.Guard.TTL)
	} else {
		a.guard = guard.Nop{}
	}

	a.pipeline = lockpipe.New(a.gw, retry.DefaultPolicy(), a.journal, a.metrics)
	a.dispatcher = dispatch.New(cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize)
	a.server = httpops.NewServer(cfg.Listen, a.registry, a.metrics)
	a.feed = feed.NewWS(cfg.Feed.URL, cfg.Feed.PingInterval, a.OnTick)

	logSettings(cfg)
	return a, nil
}

// Run starts every component and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) {
	a.server.Start()
	go a.feed.Run(ctx)

	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()

	log.Info().Msg("Gap locker running")
	for {
		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case <-ticker.C:
			a.metrics.QueueDepth.Set(float64(a.dispatcher.Depth()))
			log.Debug().Int("queue", a.dispatcher.Depth()).Msg("Housekeeping")
		}
	}
}

func (a *App) shutdown() {
	log.Info().Msg("Shutting down")

	a.dispatcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Ops server shutdown failed")
	}

	if err := a.journal.Close(); err != nil {
		log.Warn().Err(err).Msg("Journal close failed")
	}
	if err := a.guard.Close(); err != nil {
		log.Warn().Err(err).Msg("Guard close failed")
	}

	log.Info().Msg("Stopped")
}

// Reload re-reads the config file and wholesale-replaces the symbol table
// and group mask. Triggered by SIGHUP.
func (a *App) Reload() {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		log.Error().Err(err).Msg("Config reload failed, keeping previous settings")
		return
	}

	a.registry.Reload(cfg.ParseSymbolWindows(), config.ParseSkipDays(cfg.SkipDays))

	a.mu.Lock()
	a.groupMask = cfg.Groups
	a.mu.Unlock()

	logSettings(cfg)
}

// OnTick is the hot delivery path: tracker mutation under the registry lock,
// then at most a queue submit. No gateway I/O happens here.
func (a *App) OnTick(symbol string, tick model.Tick) {
	a.metrics.TicksConsumed.Inc()

	candidate := a.tracker.OnTick(symbol, tick)
	if candidate == nil {
		return
	}

	a.mu.RLock()
	mask := a.groupMask
	a.mu.RUnlock()

	c := *candidate
	ok := a.dispatcher.Submit(func(ctx context.Context) {
		a.runCandidate(ctx, c, mask)
	})
	if !ok {
		a.metrics.JobsDropped.Inc()
		log.Error().Str("symbol", symbol).Msg("Dispatch queue full, gap candidate dropped")

		run := journal.Run{
			ID:          uuid.NewString(),
			Symbol:      symbol,
			EventTimeMs: c.EventTimestampMs,
			Status:      journal.StatusDropped,
			Error:       "dispatch queue full",
		}
		go func() {
			if err := a.journal.Record(context.Background(), run); err != nil {
				log.Warn().Err(err).Str("symbol", run.Symbol).Msg("Failed to journal dropped candidate")
			}
		}()
	}
}

// runCandidate executes on a worker: claim the candidate, price it, and run
// the pipeline when at least one lock price came out.
func (a *App) runCandidate(ctx context.Context, candidate model.GapCandidate, groupMask string) {
	claimed, err := a.guard.Claim(ctx, candidate.Symbol, candidate.WindowStart)
	if err != nil {
		log.Warn().Err(err).Str("symbol", candidate.Symbol).Msg("Candidate guard unavailable")
	}
	if !claimed {
		log.Info().Str("symbol", candidate.Symbol).Msg("Candidate already claimed, skipping")
		return
	}

	points, ok := a.registry.GapPoints(candidate.Symbol)
	if !ok {
		// Symbol was removed by a reload after the candidate was queued.
		log.Warn().Str("symbol", candidate.Symbol).Msg("Symbol no longer configured")
		return
	}

	// Metadata problems are configuration errors: one attempt, no retry.
	instrument, err := a.gw.InstrumentInfo(ctx, candidate.Symbol)
	if err != nil {
		log.Error().Err(err).Str("symbol", candidate.Symbol).
			Msg("Cannot retrieve instrument metadata, candidate discarded")
		return
	}

	prices := gap.Price(candidate, instrument, points)
	if prices.Empty() {
		log.Debug().Str("symbol", candidate.Symbol).Msg("Gap below threshold on both sides")
		return
	}

	a.metrics.GapsDetected.WithLabelValues(candidate.Symbol).Inc()
	logGap(candidate, prices)

	a.pipeline.Execute(ctx, lockpipe.Job{
		Symbol:      candidate.Symbol,
		Buy:         prices.Buy,
		Sell:        prices.Sell,
		GroupMask:   groupMask,
		EventTimeMs: candidate.EventTimestampMs,
	})
}

func logGap(candidate model.GapCandidate, prices gap.Prices) {
	ev := log.Info().Str("symbol", candidate.Symbol).
		Float64("open_bid", candidate.SessionStart.Bid).
		Float64("close_bid", candidate.SessionEnd.Bid)
	if prices.Buy != nil {
		ev = ev.Float64("buy_lock", *prices.Buy)
	}
	if prices.Sell != nil {
		ev = ev.Float64("sell_lock", *prices.Sell)
	}
	ev.Msg("Gap detected")
}

func logSettings(cfg config.Config) {
	log.Info().
		Str("groups", cfg.Groups).
		Str("skip_days", cfg.SkipDays).
		Bool("debug_logs", cfg.DebugLogs).
		Int("symbols", len(cfg.Symbols)).
		Msg("Settings loaded")
}
