package lockpipe

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/gaplocker/internal/gateway"
	"github.com/sawpanic/gaplocker/internal/journal"
	"github.com/sawpanic/gaplocker/internal/metrics"
	"github.com/sawpanic/gaplocker/internal/model"
	"github.com/sawpanic/gaplocker/internal/retry"
)

// stubGateway scripts gateway responses and records every call.
type stubGateway struct {
	mu sync.Mutex

	positions    []model.Position
	positionsErr error

	ordersCalls    int
	createdOrders  []model.Order
	ordersErr      error
	rejectOrderIdx map[int]bool

	dealsCalls   int
	createdDeals []model.Deal
	dealsErr     error

	fixedLogins []uint64
	fixErr      error

	exposureCalls int
}

func (s *stubGateway) InstrumentInfo(ctx context.Context, symbol string) (model.Instrument, error) {
	return model.Instrument{Symbol: symbol, PointSize: 0.00001, Digits: 5}, nil
}

func (s *stubGateway) OpenPositions(ctx context.Context, symbol, groupMask string) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exposureCalls++
	if s.positionsErr != nil {
		return nil, s.positionsErr
	}
	return s.positions, nil
}

func (s *stubGateway) CreateOrders(ctx context.Context, orders []model.Order) ([]model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ordersCalls++
	if s.ordersErr != nil {
		return nil, s.ordersErr
	}
	results := make([]model.Result, len(orders))
	for i, o := range orders {
		if s.rejectOrderIdx[i] {
			results[i] = model.Result{ID: o.ID, OK: false, Error: "rejected"}
			continue
		}
		results[i] = model.Result{ID: o.ID, OK: true}
		s.createdOrders = append(s.createdOrders, o)
	}
	return results, nil
}

func (s *stubGateway) CreateDeals(ctx context.Context, deals []model.Deal) ([]model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dealsCalls++
	if s.dealsErr != nil {
		return nil, s.dealsErr
	}
	results := make([]model.Result, len(deals))
	for i, d := range deals {
		results[i] = model.Result{ID: d.ID, OK: true}
		s.createdDeals = append(s.createdDeals, d)
	}
	return results, nil
}

func (s *stubGateway) FixPositions(ctx context.Context, login uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fixErr != nil {
		return s.fixErr
	}
	s.fixedLogins = append(s.fixedLogins, login)
	return nil
}

// memJournal records runs in memory.
type memJournal struct {
	mu   sync.Mutex
	runs []journal.Run
}

func (m *memJournal) Record(ctx context.Context, run journal.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memJournal) Close() error { return nil }

func (m *memJournal) last(t *testing.T) journal.Run {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.runs)
	return m.runs[len(m.runs)-1]
}

func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:       10,
		TransientDelay:   time.Microsecond,
		RateLimitedDelay: time.Microsecond,
	}
}

func newPipeline(gw gateway.Gateway, jnl journal.Journal) *Pipeline {
	return New(gw, fastPolicy(), jnl, metrics.New())
}

func ptr(f float64) *float64 { return &f }

func TestExecute_LocksSingleBuyPosition(t *testing.T) {
	gw := &stubGateway{
		positions: []model.Position{{
			ID: 7, Login: 1001, Symbol: "EURUSD", Side: model.Buy,
			Volume: 10000, Digits: 5, ContractSize: 100000,
			MarginRate: 1.0, ProfitRate: 1.0,
		}},
	}
	jnl := &memJournal{}
	p := newPipeline(gw, jnl)

	p.Execute(context.Background(), Job{
		Symbol:      "EURUSD",
		Sell:        ptr(1.10550),
		GroupMask:   "real-*",
		EventTimeMs: 1705276800000,
	})

	// Exactly one order, opposite to the buy position, at the sell price.
	require.Len(t, gw.createdOrders, 1)
	order := gw.createdOrders[0]
	assert.Equal(t, model.Sell, order.Side)
	assert.Equal(t, 1.10550, order.Price)
	assert.Equal(t, uint64(1001), order.Login)
	assert.Equal(t, uint64(10000), order.Volume)
	assert.Equal(t, 1.0, order.MarginRate)
	assert.Equal(t, int64(1705276800000), order.SetupTimeMs)

	// Exactly one deal matching the order.
	require.Len(t, gw.createdDeals, 1)
	deal := gw.createdDeals[0]
	assert.Equal(t, order.ID, deal.OrderID)
	assert.Equal(t, order.Side, deal.Side)
	assert.Equal(t, order.Price, deal.Price)
	assert.Equal(t, order.MarginRate, deal.MarginRate)

	// Exactly one fix call, for that position's login.
	assert.Equal(t, []uint64{1001}, gw.fixedLogins)

	assert.Equal(t, journal.StatusLocked, jnl.last(t).Status)
}

func TestExecute_EmptyExposureEndsQuietly(t *testing.T) {
	gw := &stubGateway{}
	jnl := &memJournal{}
	p := newPipeline(gw, jnl)

	p.Execute(context.Background(), Job{Symbol: "EURUSD", Sell: ptr(1.1)})

	assert.Zero(t, gw.ordersCalls)
	assert.Zero(t, gw.dealsCalls)
	assert.Empty(t, gw.fixedLogins)
	assert.Equal(t, journal.StatusNothing, jnl.last(t).Status)
}

func TestExecute_PositionWithoutApplicablePriceSkipped(t *testing.T) {
	// A sell position needs a buy price; only a sell price exists.
	gw := &stubGateway{
		positions: []model.Position{{Login: 1001, Symbol: "EURUSD", Side: model.Sell, Volume: 100}},
	}
	jnl := &memJournal{}
	p := newPipeline(gw, jnl)

	p.Execute(context.Background(), Job{Symbol: "EURUSD", Sell: ptr(1.1)})

	assert.Empty(t, gw.createdOrders)
	assert.Empty(t, gw.fixedLogins)
	assert.Equal(t, journal.StatusNothing, jnl.last(t).Status)
}

func TestExecute_MixedExposureLocksBothSides(t *testing.T) {
	gw := &stubGateway{
		positions: []model.Position{
			{Login: 1001, Symbol: "EURUSD", Side: model.Buy, Volume: 100},
			{Login: 1002, Symbol: "EURUSD", Side: model.Sell, Volume: 200},
			{Login: 1001, Symbol: "EURUSD", Side: model.Buy, Volume: 300},
		},
	}
	jnl := &memJournal{}
	p := newPipeline(gw, jnl)

	p.Execute(context.Background(), Job{Symbol: "EURUSD", Buy: ptr(1.2), Sell: ptr(1.1)})

	require.Len(t, gw.createdOrders, 3)
	require.Len(t, gw.createdDeals, 3)

	// Two distinct logins, two fix calls.
	assert.ElementsMatch(t, []uint64{1001, 1002}, gw.fixedLogins)
	assert.Equal(t, journal.StatusLocked, jnl.last(t).Status)
}

func TestExecute_TransientExposureFailureExhaustsRetryBound(t *testing.T) {
	gw := &stubGateway{
		positionsErr: &gateway.Error{Op: "open_positions", Class: retry.ClassTransient, Err: errors.New("connection reset")},
	}
	jnl := &memJournal{}
	p := newPipeline(gw, jnl)

	p.Execute(context.Background(), Job{Symbol: "EURUSD", Sell: ptr(1.1)})

	assert.Equal(t, 11, gw.exposureCalls, "initial attempt plus ten retries")
	assert.Zero(t, gw.ordersCalls)
	assert.Equal(t, journal.StatusFailed, jnl.last(t).Status)
}

func TestExecute_FixFailureDoesNotRollBack(t *testing.T) {
	gw := &stubGateway{
		positions: []model.Position{{Login: 1001, Symbol: "EURUSD", Side: model.Buy, Volume: 100}},
		fixErr:    &gateway.Error{Op: "fix_positions", Class: retry.ClassFatal, Err: errors.New("account locked")},
	}
	jnl := &memJournal{}
	p := newPipeline(gw, jnl)

	p.Execute(context.Background(), Job{Symbol: "EURUSD", Sell: ptr(1.1)})

	// Orders and deals stay committed even though the fix stage failed.
	assert.Len(t, gw.createdOrders, 1)
	assert.Len(t, gw.createdDeals, 1)
	run := jnl.last(t)
	assert.Equal(t, journal.StatusFailed, run.Status)
	assert.Equal(t, 1, run.Orders)
	assert.Equal(t, 1, run.Deals)
}

func TestExecute_RejectedOrderExcludedFromDeals(t *testing.T) {
	gw := &stubGateway{
		positions: []model.Position{
			{Login: 1001, Symbol: "EURUSD", Side: model.Buy, Volume: 100},
			{Login: 1002, Symbol: "EURUSD", Side: model.Buy, Volume: 200},
		},
		rejectOrderIdx: map[int]bool{1: true},
	}
	jnl := &memJournal{}
	p := newPipeline(gw, jnl)

	p.Execute(context.Background(), Job{Symbol: "EURUSD", Sell: ptr(1.1)})

	require.Len(t, gw.createdOrders, 1)
	require.Len(t, gw.createdDeals, 1)
	assert.Equal(t, gw.createdOrders[0].ID, gw.createdDeals[0].OrderID)
	assert.Equal(t, []uint64{1001}, gw.fixedLogins)
}
