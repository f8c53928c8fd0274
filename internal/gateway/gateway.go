// Package gateway defines the trading-server capability consumed by the lock
// pipeline, plus the HTTP client implementation.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/sawpanic/gaplocker/internal/model"
	"github.com/sawpanic/gaplocker/internal/retry"
)

// Gateway is the consumed trading-server capability. Batch writes return one
// result per submitted record, in order.
type Gateway interface {
	InstrumentInfo(ctx context.Context, symbol string) (model.Instrument, error)
	OpenPositions(ctx context.Context, symbol, groupMask string) ([]model.Position, error)
	CreateOrders(ctx context.Context, orders []model.Order) ([]model.Result, error)
	CreateDeals(ctx context.Context, deals []model.Deal) ([]model.Result, error)
	FixPositions(ctx context.Context, login uint64) error
}

// Error is a gateway failure tagged with its retry class.
type Error struct {
	Op    string
	Class retry.Class
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrInstrumentNotFound marks missing instrument metadata, a configuration
// problem that must not be retried.
var ErrInstrumentNotFound = errors.New("instrument not found")

// Classify maps any error coming out of a gateway call to a retry class.
// Errors the gateway did not tag are treated as fatal: the stage is logged
// and abandoned rather than hammered.
func Classify(err error) retry.Class {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Class
	}
	return retry.ClassFatal
}
