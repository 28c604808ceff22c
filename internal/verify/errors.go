package verify

import "fmt"

// ReviewFailure is a Stage-1 rejection from the code reviewer.
type ReviewFailure struct {
	Reason     string
	Suggestion string
}

func (e *ReviewFailure) Error() string {
	return fmt.Sprintf("review failed: %s", e.Reason)
}

// BacktestAnomaly is a Stage-2 rejection from the historical
// simulation. Kind is a stable tag the repair prompt can act on.
type BacktestAnomaly struct {
	Kind   string
	Detail string
}

func (e *BacktestAnomaly) Error() string {
	return fmt.Sprintf("simulation anomaly %s: %s", e.Kind, e.Detail)
}
