package market

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linchiahui/aitrader/internal/logger"
)

func testBar(i int) Bar {
	return Bar{
		Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		Open:      float64(100 + i),
		High:      float64(101 + i),
		Low:       float64(99 + i),
		Close:     float64(100 + i),
		Volume:    1000,
	}
}

type fakeProvider struct {
	bars  []Bar
	calls int
}

func (f *fakeProvider) GetHistoricalBars(ctx context.Context, symbol string, tf Timeframe, count int) ([]Bar, error) {
	f.calls++
	if len(f.bars) > count {
		return f.bars[len(f.bars)-count:], nil
	}
	return f.bars, nil
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(logger.New("error", "text"))

	for i := 0; i < MaxBars+1; i++ {
		c.Update("TXF", testBar(i))
	}

	assert.Equal(t, MaxBars, c.Len("TXF"))

	bars := c.Latest("TXF", MaxBars)
	require.Len(t, bars, MaxBars)
	// Bar 0 was evicted; the window starts at bar 1 and stays oldest-first.
	assert.Equal(t, testBar(1).Close, bars[0].Close)
	assert.Equal(t, testBar(MaxBars).Close, bars[len(bars)-1].Close)
}

func TestCacheLatest(t *testing.T) {
	c := NewCache(logger.New("error", "text"))
	for i := 0; i < 10; i++ {
		c.Update("TXF", testBar(i))
	}

	bars := c.Latest("TXF", 3)
	require.Len(t, bars, 3)
	assert.Equal(t, testBar(7).Close, bars[0].Close)
	assert.Equal(t, testBar(9).Close, bars[2].Close)

	// A shorter series returns what it has.
	assert.Len(t, c.Latest("TXF", 100), 10)
	assert.Nil(t, c.Latest("MXF", 5))

	// Mutating the returned slice must not touch the cache.
	bars[0].Close = -1
	again := c.Latest("TXF", 3)
	assert.Equal(t, testBar(7).Close, again[0].Close)
}

func TestCacheEnsureHistory(t *testing.T) {
	c := NewCache(logger.New("error", "text"))
	provider := &fakeProvider{}
	for i := 0; i < 120; i++ {
		provider.bars = append(provider.bars, testBar(i))
	}

	err := c.EnsureHistory(context.Background(), provider, "TXF", Timeframe1m, 100)
	require.NoError(t, err)
	assert.Equal(t, 100, c.Len("TXF"))
	assert.Equal(t, 1, provider.calls)

	price, ok := c.LastPrice("TXF")
	require.True(t, ok)
	assert.Equal(t, testBar(119).Close, price)

	// Sufficient history is a no-op.
	err = c.EnsureHistory(context.Background(), provider, "TXF", Timeframe1m, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
}

func TestCacheLastPrice(t *testing.T) {
	c := NewCache(logger.New("error", "text"))

	_, ok := c.LastPrice("TXF")
	assert.False(t, ok)

	c.SetLastPrice("TXF", 17500)
	price, ok := c.LastPrice("TXF")
	require.True(t, ok)
	assert.Equal(t, 17500.0, price)

	c.Update("TXF", testBar(0))
	price, _ = c.LastPrice("TXF")
	assert.Equal(t, testBar(0).Close, price)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewCache(logger.New("error", "text"))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%d", w%2)
			for i := 0; i < 1000; i++ {
				c.Update(sym, testBar(i))
				c.Latest(sym, 50)
				c.LastPrice(sym)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, MaxBars, c.Len("SYM0"))
	assert.Equal(t, MaxBars, c.Len("SYM1"))
}

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe("5m")
	require.NoError(t, err)
	assert.Equal(t, Timeframe5m, tf)
	assert.Equal(t, 5*time.Minute, tf.Duration())

	_, err = ParseTimeframe("2h")
	assert.Error(t, err)
}

func TestContractMultiplier(t *testing.T) {
	assert.Equal(t, 200.0, ContractMultiplier("TXF202609"))
	assert.Equal(t, 50.0, ContractMultiplier("MXF"))
	assert.Equal(t, 10.0, ContractMultiplier("tmf202512"))
	assert.Equal(t, 1.0, ContractMultiplier("UNKNOWN"))
}
