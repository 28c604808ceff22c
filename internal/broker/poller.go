package broker

import (
	"context"
	"time"
)

const pollInterval = 5 * time.Second

// RunPoller refreshes last prices for the watched symbols until ctx is
// cancelled, delivering each through onPrice. After a failure it
// retries with the configured backoff; once the attempt budget is
// spent the client stays disconnected until a later poll succeeds.
func (c *Client) RunPoller(ctx context.Context, onPrice func(symbol string, price float64)) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		symbols := c.watchedSymbols()
		if len(symbols) == 0 {
			continue
		}

		prices, err := c.lastPrices(symbols)
		if err != nil {
			failures++
			c.connected.Store(false)
			c.logger.Warn("price poll failed", "attempt", failures, "error", err)
			if failures <= c.cfg.Broker.ReconnectAttempts {
				select {
				case <-ctx.Done():
					return
				case <-time.After(c.cfg.ReconnectBackoff()):
				}
			}
			continue
		}

		if failures > 0 {
			c.logger.Info("broker link recovered", "after_failures", failures)
		}
		failures = 0
		c.connected.Store(true)

		for sym, price := range prices {
			onPrice(sym, price)
		}
	}
}
