package market

import (
	"fmt"
	"time"
)

// Bar is one immutable OHLCV sample for a fixed time bucket.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe60m Timeframe = "60m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	Timeframe1m:  time.Minute,
	Timeframe5m:  5 * time.Minute,
	Timeframe15m: 15 * time.Minute,
	Timeframe30m: 30 * time.Minute,
	Timeframe60m: time.Hour,
	Timeframe1h:  time.Hour,
	Timeframe1d:  24 * time.Hour,
}

// approximate completed bars in one trading session per timeframe.
var timeframeBarsPerDay = map[Timeframe]int{
	Timeframe1m:  300,
	Timeframe5m:  60,
	Timeframe15m: 20,
	Timeframe30m: 10,
	Timeframe60m: 5,
	Timeframe1h:  5,
	Timeframe1d:  1,
}

func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// BarsPerDay approximates how many completed bars one trading session
// produces for the timeframe.
func (tf Timeframe) BarsPerDay() int {
	if n, ok := timeframeBarsPerDay[tf]; ok {
		return n
	}
	return 1
}

func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

func (tf Timeframe) String() string {
	return string(tf)
}
