package model

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusLoading   Status = "loading"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

var terminalStatuses = map[Status]bool{
	StatusDone:      true,
	StatusCancelled: true,
}

// Task lifecycle: pending → loading → done, or pending → cancelled.
// A loading task is never cancelled mid-flight; its result is dropped at the
// epoch check instead, so loading → done is the only exit.
var validTaskTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusLoading:   true,
		StatusCancelled: true,
		StatusDone:      true, // cache hit at drain time, no decode issued
	},
	StatusLoading: {
		StatusDone: true,
	},
}

func IsTerminal(s Status) bool {
	return terminalStatuses[s]
}

func ValidateTaskTransition(from, to Status) error {
	if IsTerminal(from) {
		return fmt.Errorf("cannot transition from terminal status %q", from)
	}
	allowed, ok := validTaskTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid task transition: %q → %q", from, to)
	}
	return nil
}
