package market

import (
	"context"
	"fmt"
	"sync"

	"github.com/linchiahui/aitrader/internal/logger"
)

// MaxBars is the retention cap of each per-symbol series. The oldest bar
// is evicted once an insert would exceed it.
const MaxBars = 500

// HistoryProvider backfills a series from the brokerage when the cache is
// short. Implemented by broker.Client; tests inject fakes.
type HistoryProvider interface {
	GetHistoricalBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error)
}

type series struct {
	bars      []Bar
	lastPrice float64
}

// Cache holds one bounded rolling bar window per symbol. The runner reads
// it while the live-quote stream writes to it; every update replaces the
// window atomically under the lock so a reader never observes a torn bar.
type Cache struct {
	mu     sync.RWMutex
	series map[string]*series
	logger *logger.Logger
}

func NewCache(log *logger.Logger) *Cache {
	return &Cache{
		series: make(map[string]*series),
		logger: log,
	}
}

// EnsureHistory backfills the series for symbol from the provider when it
// holds fewer than minBars bars. A sufficiently long series is a no-op.
func (c *Cache) EnsureHistory(ctx context.Context, provider HistoryProvider, symbol string, tf Timeframe, minBars int) error {
	c.mu.RLock()
	s, ok := c.series[symbol]
	have := 0
	if ok {
		have = len(s.bars)
	}
	c.mu.RUnlock()

	if have >= minBars {
		return nil
	}

	bars, err := provider.GetHistoricalBars(ctx, symbol, tf, minBars)
	if err != nil {
		return fmt.Errorf("fetch history for %s: %w", symbol, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ns := &series{bars: bars}
	if len(ns.bars) > MaxBars {
		ns.bars = append([]Bar(nil), ns.bars[len(ns.bars)-MaxBars:]...)
	}
	if n := len(ns.bars); n > 0 {
		ns.lastPrice = ns.bars[n-1].Close
	}
	c.series[symbol] = ns

	c.logger.Info("history backfilled", "symbol", symbol, "timeframe", tf.String(), "bars", len(ns.bars))
	return nil
}

// Update appends one bar to the symbol's series, evicting the oldest bar
// beyond the retention cap.
func (c *Cache) Update(symbol string, bar Bar) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[symbol]
	if !ok {
		s = &series{}
		c.series[symbol] = s
	}

	s.bars = append(s.bars, bar)
	if len(s.bars) > MaxBars {
		s.bars = s.bars[len(s.bars)-MaxBars:]
	}
	s.lastPrice = bar.Close
}

// SetLastPrice records a tick price without appending a bar.
func (c *Cache) SetLastPrice(symbol string, price float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.series[symbol]
	if !ok {
		s = &series{}
		c.series[symbol] = s
	}
	s.lastPrice = price
}

// Latest returns the most recent n bars oldest-first, or fewer if the
// series is shorter. It never fails; an unknown symbol yields nil.
func (c *Cache) Latest(symbol string, n int) []Bar {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.series[symbol]
	if !ok || n <= 0 {
		return nil
	}

	bars := s.bars
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	out := make([]Bar, len(bars))
	copy(out, bars)
	return out
}

// LastPrice returns the most recent tick or close for symbol.
func (c *Cache) LastPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.series[symbol]
	if !ok || s.lastPrice == 0 {
		return 0, false
	}
	return s.lastPrice, true
}

// Len reports how many bars are cached for symbol.
func (c *Cache) Len(symbol string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.series[symbol]
	if !ok {
		return 0
	}
	return len(s.bars)
}

// Drop removes a symbol's series once no strategy trades it.
func (c *Cache) Drop(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.series, symbol)
}
