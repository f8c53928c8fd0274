// Package lockpipe converts a detected gap into committed trading records:
// locking orders, matching deals, then per-login position fixups. Each stage
// retries within a shared bound; stages already committed are never rolled
// back when a later stage fails.
package lockpipe

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/gaplocker/internal/gateway"
	"github.com/sawpanic/gaplocker/internal/journal"
	"github.com/sawpanic/gaplocker/internal/metrics"
	"github.com/sawpanic/gaplocker/internal/model"
	"github.com/sawpanic/gaplocker/internal/retry"
)

// lockComment tags every record the pipeline creates.
const lockComment = "gap lock"

// Job is one pipeline invocation: the immutable snapshot taken when the gap
// was detected. The job never touches live session state.
type Job struct {
	Symbol      string
	Buy         *float64 // price locking existing sell exposure
	Sell        *float64 // price locking existing buy exposure
	GroupMask   string   // config snapshot from submit time
	EventTimeMs int64
}

// Pipeline executes lock jobs against the gateway.
type Pipeline struct {
	gw      gateway.Gateway
	policy  retry.Policy
	journal journal.Journal
	metrics *metrics.Registry
}

// New creates a pipeline. Journal and metrics may be no-ops but not nil.
func New(gw gateway.Gateway, policy retry.Policy, jnl journal.Journal, reg *metrics.Registry) *Pipeline {
	return &Pipeline{gw: gw, policy: policy, journal: jnl, metrics: reg}
}

// Execute runs all stages for one job. Errors are handled locally: the run
// is logged and journaled, nothing propagates to the caller.
func (p *Pipeline) Execute(ctx context.Context, job Job) {
	runID := uuid.NewString()
	logger := log.With().Str("run", runID).Str("symbol", job.Symbol).Logger()

	run := journal.Run{
		ID:          runID,
		Symbol:      job.Symbol,
		BuyPrice:    job.Buy,
		SellPrice:   job.Sell,
		EventTimeMs: job.EventTimeMs,
	}

	positions, err := p.fetchExposure(ctx, job)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to fetch open exposure, abandoning run")
		p.finish(ctx, run, journal.StatusFailed, err)
		return
	}
	if len(positions) == 0 {
		logger.Info().Msg("No open exposure to lock")
		p.finish(ctx, run, journal.StatusNothing, nil)
		return
	}

	orders, err := p.createOrders(ctx, job, positions)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create locking orders, abandoning run")
		p.finish(ctx, run, journal.StatusFailed, err)
		return
	}
	run.Orders = len(orders)
	if len(orders) == 0 {
		logger.Info().Msg("No position matched a lock price")
		p.finish(ctx, run, journal.StatusNothing, nil)
		return
	}

	deals, err := p.createDeals(ctx, job, orders)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create deals, abandoning run")
		p.finish(ctx, run, journal.StatusFailed, err)
		return
	}
	run.Deals = len(deals)

	logins, err := p.fixPositions(ctx, orders)
	run.Logins = logins
	if err != nil {
		// Orders and deals are already committed and individually valid;
		// only the recalculation is missing. Accepted tradeoff.
		logger.Error().Err(err).Msg("Failed to fix positions, abandoning run")
		p.finish(ctx, run, journal.StatusFailed, err)
		return
	}

	logger.Info().Int("orders", len(orders)).Int("deals", len(deals)).
		Int("logins", logins).Msg("Gap lock completed")
	p.finish(ctx, run, journal.StatusLocked, nil)
}

// fetchExposure retrieves the open positions for the job's symbol and group
// mask. Fetched fresh for every run, never cached.
func (p *Pipeline) fetchExposure(ctx context.Context, job Job) ([]model.Position, error) {
	var positions []model.Position
	err := retry.Do(ctx, p.policy, gateway.Classify, func(ctx context.Context) error {
		var err error
		positions, err = p.gw.OpenPositions(ctx, job.Symbol, job.GroupMask)
		if err != nil {
			p.metrics.PipelineRetries.WithLabelValues("exposure").Inc()
		}
		return err
	})
	return positions, err
}

// createOrders builds and persists one locking order per applicable
// position. The batch is rebuilt on every attempt so recoverable validation
// errors start from clean records.
func (p *Pipeline) createOrders(ctx context.Context, job Job, positions []model.Position) ([]model.Order, error) {
	var persisted []model.Order
	err := retry.Do(ctx, p.policy, gateway.Classify, func(ctx context.Context) error {
		orders := buildOrders(job, positions)
		if len(orders) == 0 {
			return nil
		}

		results, err := p.gw.CreateOrders(ctx, orders)
		if err != nil {
			p.metrics.PipelineRetries.WithLabelValues("orders").Inc()
			return err
		}

		persisted = persisted[:0]
		for i, res := range results {
			if !res.OK {
				log.Warn().Str("symbol", job.Symbol).Uint64("login", orders[i].Login).
					Str("error", res.Error).Msg("Gateway rejected locking order")
				continue
			}
			persisted = append(persisted, orders[i])
		}
		if len(persisted) == 0 {
			return fmt.Errorf("gateway rejected all %d locking orders", len(orders))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

// buildOrders pairs each position with the price locking its side. A
// position with no applicable price is skipped, not an error.
func buildOrders(job Job, positions []model.Position) []model.Order {
	orders := make([]model.Order, 0, len(positions))
	for _, pos := range positions {
		var price *float64
		switch pos.Side {
		case model.Buy:
			price = job.Sell
		case model.Sell:
			price = job.Buy
		}
		if price == nil {
			continue
		}

		orders = append(orders, model.Order{
			ID:           uuid.NewString(),
			Login:        pos.Login,
			Symbol:       pos.Symbol,
			Side:         pos.Side.Opposite(),
			Volume:       pos.Volume,
			Price:        *price,
			Digits:       pos.Digits,
			ContractSize: pos.ContractSize,
			MarginRate:   pos.MarginRate,
			ProfitRate:   pos.ProfitRate,
			SetupTimeMs:  job.EventTimeMs,
			Comment:      lockComment,
		})
	}
	return orders
}

// createDeals persists one closing deal per persisted order, carrying the
// order's margin and profit rates forward.
func (p *Pipeline) createDeals(ctx context.Context, job Job, orders []model.Order) ([]model.Deal, error) {
	var persisted []model.Deal
	err := retry.Do(ctx, p.policy, gateway.Classify, func(ctx context.Context) error {
		deals := buildDeals(orders)

		results, err := p.gw.CreateDeals(ctx, deals)
		if err != nil {
			p.metrics.PipelineRetries.WithLabelValues("deals").Inc()
			return err
		}

		persisted = persisted[:0]
		for i, res := range results {
			if !res.OK {
				log.Warn().Str("symbol", job.Symbol).Str("order", deals[i].OrderID).
					Str("error", res.Error).Msg("Gateway rejected closing deal")
				continue
			}
			persisted = append(persisted, deals[i])
		}
		if len(persisted) == 0 {
			return fmt.Errorf("gateway rejected all %d deals", len(deals))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return persisted, nil
}

func buildDeals(orders []model.Order) []model.Deal {
	deals := make([]model.Deal, 0, len(orders))
	for _, order := range orders {
		deals = append(deals, model.Deal{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			Login:       order.Login,
			Symbol:      order.Symbol,
			Side:        order.Side,
			Volume:      order.Volume,
			Price:       order.Price,
			Digits:      order.Digits,
			MarginRate:  order.MarginRate,
			ProfitRate:  order.ProfitRate,
			SetupTimeMs: order.SetupTimeMs,
			Comment:     order.Comment,
		})
	}
	return deals
}

// fixPositions issues one recalculation call per distinct login. The first
// login whose fix call exhausts its retries fails the run.
func (p *Pipeline) fixPositions(ctx context.Context, orders []model.Order) (int, error) {
	seen := make(map[uint64]bool, len(orders))
	fixed := 0
	for _, order := range orders {
		if seen[order.Login] {
			continue
		}
		seen[order.Login] = true

		login := order.Login
		err := retry.Do(ctx, p.policy, gateway.Classify, func(ctx context.Context) error {
			if err := p.gw.FixPositions(ctx, login); err != nil {
				p.metrics.PipelineRetries.WithLabelValues("fix").Inc()
				return err
			}
			return nil
		})
		if err != nil {
			return fixed, fmt.Errorf("fix positions for login %d: %w", login, err)
		}
		fixed++
	}
	return fixed, nil
}

// finish records the run outcome to metrics and the journal. Journal errors
// are logged, never propagated.
func (p *Pipeline) finish(ctx context.Context, run journal.Run, status string, runErr error) {
	run.Status = status
	if runErr != nil {
		run.Error = runErr.Error()
	}

	p.metrics.PipelineRuns.WithLabelValues(status).Inc()

	if err := p.journal.Record(ctx, run); err != nil {
		log.Warn().Err(err).Str("run", run.ID).Msg("Failed to journal pipeline run")
	}
}
