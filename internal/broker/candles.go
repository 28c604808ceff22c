package broker

import (
	"context"
	"fmt"
	"time"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"

	"github.com/linchiahui/aitrader/internal/market"
)

var candleIntervals = map[market.Timeframe]pb.CandleInterval{
	market.Timeframe1m:  pb.CandleInterval_CANDLE_INTERVAL_1_MIN,
	market.Timeframe5m:  pb.CandleInterval_CANDLE_INTERVAL_5_MIN,
	market.Timeframe15m: pb.CandleInterval_CANDLE_INTERVAL_15_MIN,
	market.Timeframe30m: pb.CandleInterval_CANDLE_INTERVAL_30_MIN,
	market.Timeframe60m: pb.CandleInterval_CANDLE_INTERVAL_HOUR,
	market.Timeframe1h:  pb.CandleInterval_CANDLE_INTERVAL_HOUR,
	market.Timeframe1d:  pb.CandleInterval_CANDLE_INTERVAL_DAY,
}

// GetHistoricalBars fetches up to count completed candles for the
// symbol, oldest first.
func (c *Client) GetHistoricalBars(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Bar, error) {
	interval, ok := candleIntervals[tf]
	if !ok {
		return nil, fmt.Errorf("unsupported timeframe %s", tf)
	}

	uid, err := c.resolveUID(symbol)
	if err != nil {
		c.connected.Store(false)
		return nil, &ConnectivityError{Op: "resolve instrument", Err: err}
	}

	now := time.Now()
	from := historyStart(now, tf, count)

	md := c.client.NewMarketDataServiceClient()
	resp, err := md.GetCandles(
		uid,
		interval,
		from, now,
		pb.GetCandlesRequest_CANDLE_SOURCE_EXCHANGE,
		0,
	)
	if err != nil {
		c.connected.Store(false)
		return nil, &ConnectivityError{Op: "get candles", Err: err}
	}
	c.connected.Store(true)

	candles := resp.GetCandles()
	bars := make([]market.Bar, 0, len(candles))
	for _, cd := range candles {
		if !cd.GetIsComplete() {
			continue
		}
		bars = append(bars, market.Bar{
			Timestamp: cd.GetTime().AsTime(),
			Open:      cd.GetOpen().ToFloat(),
			High:      cd.GetHigh().ToFloat(),
			Low:       cd.GetLow().ToFloat(),
			Close:     cd.GetClose().ToFloat(),
			Volume:    float64(cd.GetVolume()),
		})
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

// historyStart widens a bar count into a calendar window large enough
// to cover it. A session produces roughly BarsPerDay bars and weekends
// produce none, so the span is measured in trading days and padded,
// not derived from count*interval.
func historyStart(now time.Time, tf market.Timeframe, count int) time.Time {
	perDay := tf.BarsPerDay()
	days := (count + perDay - 1) / perDay
	days = days*7/5 + 3
	return now.AddDate(0, 0, -days)
}

// lastPrices fetches current prices for the watched symbols.
func (c *Client) lastPrices(symbols []string) (map[string]float64, error) {
	uids := make([]string, 0, len(symbols))
	bySymbol := make(map[string]string, len(symbols))
	for _, s := range symbols {
		uid, err := c.resolveUID(s)
		if err != nil {
			return nil, err
		}
		uids = append(uids, uid)
		bySymbol[uid] = s
	}

	md := c.client.NewMarketDataServiceClient()
	resp, err := md.GetLastPrices(uids)
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(symbols))
	for _, lp := range resp.GetLastPrices() {
		if sym, ok := bySymbol[lp.GetInstrumentUid()]; ok {
			out[sym] = lp.GetPrice().ToFloat()
		}
	}
	return out, nil
}
