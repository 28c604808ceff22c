package runner

import "time"

// StrategyStatus is one loaded strategy in a status snapshot.
type StrategyStatus struct {
	StrategyID string `json:"strategy_id"`
	Version    int    `json:"version"`
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	CachedBars int    `json:"cached_bars"`
}

// Status is a point-in-time view of the loop for the status endpoint.
type Status struct {
	BrokerConnected bool             `json:"broker_connected"`
	LastCycle       time.Time        `json:"last_cycle"`
	QueuedOrders    int              `json:"queued_orders"`
	Strategies      []StrategyStatus `json:"strategies"`
}

func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := Status{
		BrokerConnected: r.broker.Connected(),
		LastCycle:       r.lastCycle,
		QueuedOrders:    len(r.queue),
		Strategies:      make([]StrategyStatus, 0, len(r.active)),
	}
	for _, a := range r.active {
		st.Strategies = append(st.Strategies, StrategyStatus{
			StrategyID: a.rec.StrategyID,
			Version:    a.rec.Version,
			Symbol:     a.rec.Symbol,
			Timeframe:  a.tf.String(),
			CachedBars: r.cache.Len(a.rec.Symbol),
		})
	}
	return st
}
