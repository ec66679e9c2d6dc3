package txlog

import "fmt"

// Status is the lifecycle state of a transaction record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSimulated Status = "simulated"
	StatusApproved  Status = "approved"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
)

// statusRank orders the success path. Terminal states share the top rank so
// no transition can leave them.
var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSimulated: 1,
	StatusApproved:  2,
	StatusConfirmed: 3,
	StatusRejected:  3,
	StatusFailed:    3,
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// canTransition enforces monotonicity: the success path only moves forward,
// rejected/failed may be entered from any non-terminal state, and terminal
// states never change. Writing the current status again is an idempotent
// no-op handled by the caller.
func canTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("transaction already %s, cannot move to %s", from, to)
	}
	if statusRank[to] <= statusRank[from] {
		return fmt.Errorf("status cannot move backwards from %s to %s", from, to)
	}
	return nil
}
