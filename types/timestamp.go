package types

import "fmt"

// Timestamp is a hybrid-clock timestamp assigned to replicated operations.
// The clock internals live outside this module; here it is an opaque,
// totally ordered value.
type Timestamp uint64

// TimestampNone marks an operation that has not been assigned a timestamp
// yet.
const TimestampNone = Timestamp(0)

func (ts Timestamp) IsNone() bool {
	return ts == TimestampNone
}

func (ts Timestamp) Less(other Timestamp) bool {
	return ts < other
}

func (ts Timestamp) String() string {
	if ts.IsNone() {
		return "<unassigned>"
	}
	return fmt.Sprintf("%d", uint64(ts))
}
