package consensus

import (
	"tabletraft/types"
)

// CommitContinuation is the replica-side hook invoked when consensus
// commits an in-flight operation, or when the operation is abandoned at
// shutdown.
type CommitContinuation interface {
	// ConsensusCommitted is invoked under the replica lock when the
	// commit watermark passes the operation.
	ConsensusCommitted() error
	// Abort is invoked for operations whose apply never started when the
	// replica shuts down.
	Abort()
}

// PendingOp is one admitted operation: the stamped replicate message plus
// the completion hook. Completion is a tagged choice — an op carries
// either a commit continuation (invoked inline) or a replicate callback
// (dispatched through the callback pool), never both.
type PendingOp struct {
	msg          *types.ReplicateMsg
	continuation CommitContinuation
	replicateCB  func(error)
}

type PendingOpOption func(*PendingOp)

// WithContinuation attaches a commit continuation.
func WithContinuation(c CommitContinuation) PendingOpOption {
	return func(op *PendingOp) { op.continuation = c }
}

// WithReplicateCallback attaches a pool-dispatched completion callback.
func WithReplicateCallback(cb func(error)) PendingOpOption {
	return func(op *PendingOp) { op.replicateCB = cb }
}

// NewPendingOp wraps a stamped replicate message. The message must carry
// an id.
func NewPendingOp(msg *types.ReplicateMsg, options ...PendingOpOption) *PendingOp {
	if !msg.HasId() {
		panic("pending op built from an unstamped replicate message")
	}
	op := &PendingOp{msg: msg}
	for _, option := range options {
		option(op)
	}
	return op
}

func (op *PendingOp) Id() types.OpId {
	return *op.msg.Id
}

func (op *PendingOp) Msg() *types.ReplicateMsg {
	return op.msg
}

func (op *PendingOp) Continuation() CommitContinuation {
	return op.continuation
}

// SetContinuation attaches the replica-side continuation after admission;
// used by the op factory once the follower driver is built.
func (op *PendingOp) SetContinuation(c CommitContinuation) {
	if op.continuation != nil {
		panic("pending op already carries a continuation")
	}
	op.continuation = c
}
