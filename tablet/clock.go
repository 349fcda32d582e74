package tablet

import (
	"sync"

	"tabletraft/types"
)

// Clock hands out monotonically increasing timestamps and tracks the
// highest timestamp ever assigned. The hybrid-clock physical source lives
// outside this module; here the register is what matters: a leader
// finalizing a commit must push the register past the finalized commit
// timestamp so later ops sort after it.
type Clock struct {
	mtx          sync.Mutex
	lastAssigned types.Timestamp
}

func NewClock(initial types.Timestamp) *Clock {
	return &Clock{lastAssigned: initial}
}

// Now assigns and returns the next timestamp.
func (c *Clock) Now() types.Timestamp {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.lastAssigned++
	return c.lastAssigned
}

// LastAssignedTimestamp returns the highest timestamp handed out so far.
func (c *Clock) LastAssignedTimestamp() types.Timestamp {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.lastAssigned
}

// UpdateClockAndLastAssignedTimestamp moves the register forward to at
// least ts. Moving backwards is a no-op.
func (c *Clock) UpdateClockAndLastAssignedTimestamp(ts types.Timestamp) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.lastAssigned.Less(ts) {
		c.lastAssigned = ts
	}
	return nil
}
