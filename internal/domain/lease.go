package domain

import "time"

// Operation is the kind of work a lease serializes for a resource.
type Operation string

const (
	OpSearch  Operation = "search"
	OpMonitor Operation = "monitor"
	OpBook    Operation = "book"
	OpNotify  Operation = "notify"
	OpTick    Operation = "tick"
)

// DefaultTTL is the lease lifetime used when the caller does not pass one.
// Book chains several slow provider calls and gets a longer window.
func (o Operation) DefaultTTL() time.Duration {
	if o == OpBook {
		return 60 * time.Second
	}
	return 30 * time.Second
}

// OperationFor maps a pipeline stage to the lease operation guarding it.
func OperationFor(s Stage) Operation {
	return Operation(s)
}

type Lease struct {
	ResourceID string
	Operation  Operation
	Key        string
	Token      string
	ExpiresAt  time.Time
}
