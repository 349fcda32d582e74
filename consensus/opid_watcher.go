package consensus

import (
	"sort"

	"tabletraft/libs/pool"
	"tabletraft/types"
)

// MarkMode selects which registered watchers fire when a watermark
// advances.
type MarkMode uint8

const (
	// MarkOnlyThisOp fires the watcher registered at exactly the given
	// OpId.
	MarkOnlyThisOp = MarkMode(0)
	// MarkAllOpsBefore fires every watcher registered at or below the
	// given OpId, in OpId order.
	MarkAllOpsBefore = MarkMode(1)
)

// WatcherFn is a one-shot callback fired when an op reaches a watermark.
// A nil error means the op reached the watermark; a non-nil error reports
// the op failed (e.g. aborted at shutdown).
type WatcherFn func(error)

// OpIdWatcherSet keeps one-shot callbacks keyed by OpId and dispatches
// them on the shared callback pool, never on the caller's goroutine and
// never under the replica lock.
type OpIdWatcherSet struct {
	callbackPool *pool.Pool
	watchers     map[types.OpId]WatcherFn
}

func NewOpIdWatcherSet(callbackPool *pool.Pool) *OpIdWatcherSet {
	return &OpIdWatcherSet{
		callbackPool: callbackPool,
		watchers:     make(map[types.OpId]WatcherFn),
	}
}

// Register inserts cb against id. It never fires cb synchronously; the
// caller is responsible for rejecting registrations at or below the
// current watermark.
func (ws *OpIdWatcherSet) Register(id types.OpId, cb WatcherFn) {
	ws.watchers[id] = cb
}

// MarkFinished fires and removes the watchers selected by mode, dispatching
// each through the callback pool in ascending OpId order.
func (ws *OpIdWatcherSet) MarkFinished(id types.OpId, mode MarkMode) {
	switch mode {
	case MarkOnlyThisOp:
		if cb, ok := ws.watchers[id]; ok {
			delete(ws.watchers, id)
			ws.dispatch(cb, nil)
		}
	case MarkAllOpsBefore:
		var eligible []types.OpId
		for watched := range ws.watchers {
			if watched.LessEq(id) {
				eligible = append(eligible, watched)
			}
		}
		sort.Slice(eligible, func(i, j int) bool { return eligible[i].Less(eligible[j]) })
		for _, watched := range eligible {
			cb := ws.watchers[watched]
			delete(ws.watchers, watched)
			ws.dispatch(cb, nil)
		}
	}
}

// FailAll fires every remaining watcher with err and clears the set. Used
// when the replica shuts down with ops still pending.
func (ws *OpIdWatcherSet) FailAll(err error) {
	var remaining []types.OpId
	for watched := range ws.watchers {
		remaining = append(remaining, watched)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].Less(remaining[j]) })
	for _, watched := range remaining {
		cb := ws.watchers[watched]
		delete(ws.watchers, watched)
		ws.dispatch(cb, err)
	}
}

// Len returns the number of registered watchers.
func (ws *OpIdWatcherSet) Len() int {
	return len(ws.watchers)
}

func (ws *OpIdWatcherSet) dispatch(cb WatcherFn, err error) {
	// Best effort once the pool stopped; shutdown failures are delivered
	// through FailAll before the pool goes away.
	_ = ws.callbackPool.Submit(func() { cb(err) })
}
