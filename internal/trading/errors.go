package trading

import "fmt"

// DraftError reports an invalid strategy draft. Field names the first
// offending input.
type DraftError struct {
	Field  string
	Reason string
}

func (e *DraftError) Error() string {
	return fmt.Sprintf("invalid draft: %s %s", e.Field, e.Reason)
}

// ConfirmationRequired blocks a destructive transition until the
// caller repeats it with confirm set. Detail describes what the
// confirmed action will do, including any position that will be
// force-closed.
type ConfirmationRequired struct {
	Action string
	Detail string
}

func (e *ConfirmationRequired) Error() string {
	return fmt.Sprintf("confirmation required for %s: %s", e.Action, e.Detail)
}
