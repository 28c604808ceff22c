package broker

import (
	"context"
	"fmt"

	"github.com/linchiahui/aitrader/internal/market"
)

// Side of a market order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Fill is the broker's report of an executed market order.
type Fill struct {
	OrderID       string
	ExecutedPrice float64
	ExecutedLots  int64
}

// ConnectivityError marks a failure caused by the broker link being
// down. Orders hitting it are queued by the runner instead of sent.
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("broker %s: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Broker is the trading venue surface the runner and pipeline depend
// on. Satisfied by Client; tests use in-memory fakes.
type Broker interface {
	GetHistoricalBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error)
	Watch(symbol string)
	Unwatch(symbol string)
	PlaceMarketOrder(ctx context.Context, symbol string, side Side, quantity int64) (*Fill, error)
	Connected() bool
}
