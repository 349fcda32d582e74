package types

import "fmt"

// OpType tags a replicated operation.
type OpType uint8

const (
	OpUnknown      = OpType(0)
	OpNoOp         = OpType(1)
	OpWrite        = OpType(2)
	OpChangeConfig = OpType(3)
	OpParticipant  = OpType(4)
)

func (t OpType) String() string {
	switch t {
	case OpNoOp:
		return "NO_OP"
	case OpWrite:
		return "WRITE_OP"
	case OpChangeConfig:
		return "CHANGE_CONFIG_OP"
	case OpParticipant:
		return "PARTICIPANT_OP"
	default:
		return "UNKNOWN_OP"
	}
}

// ReplicateMsg is the payload of one log entry as pushed through consensus.
// Id is nil until the leader stamps the message; Timestamp is assigned when
// the entry is accepted by consensus.
type ReplicateMsg struct {
	Id        *OpId     `json:"id,omitempty"`
	Type      OpType    `json:"op_type"`
	Timestamp Timestamp `json:"timestamp,omitempty"`

	// At most one of the payloads below is set, matching Type.
	ChangeConfig *Quorum             `json:"change_config,omitempty"`
	Participant  *ParticipantRequest `json:"participant_request,omitempty"`
}

func (m *ReplicateMsg) HasId() bool {
	return m.Id != nil
}

func (m *ReplicateMsg) String() string {
	id := "<unassigned>"
	if m.HasId() {
		id = m.Id.String()
	}
	return fmt.Sprintf("ReplicateMsg{id=%s, type=%s}", id, m.Type)
}

// CommitMsg records that an operation went through consensus and was
// applied locally.
type CommitMsg struct {
	Type        OpType `json:"op_type"`
	CommittedId OpId   `json:"committed_id"`
}

// ParticipantOpType is one step of the per-transaction participant state
// machine.
type ParticipantOpType uint8

const (
	ParticipantUnknown        = ParticipantOpType(0)
	ParticipantBeginTxn       = ParticipantOpType(1)
	ParticipantBeginCommit    = ParticipantOpType(2)
	ParticipantFinalizeCommit = ParticipantOpType(3)
	ParticipantAbortTxn       = ParticipantOpType(4)
)

func (t ParticipantOpType) String() string {
	switch t {
	case ParticipantBeginTxn:
		return "BEGIN_TXN"
	case ParticipantBeginCommit:
		return "BEGIN_COMMIT"
	case ParticipantFinalizeCommit:
		return "FINALIZE_COMMIT"
	case ParticipantAbortTxn:
		return "ABORT_TXN"
	default:
		return "UNKNOWN"
	}
}

// ParticipantOpPayload describes the participant-side step to run for one
// transaction. FinalizedCommitTs is only set for FINALIZE_COMMIT.
type ParticipantOpPayload struct {
	TxnId             int64             `json:"txn_id"`
	Type              ParticipantOpType `json:"type"`
	FinalizedCommitTs Timestamp         `json:"finalized_commit_timestamp,omitempty"`
}

// ParticipantRequest is the wire form of a participant op carried in a
// ReplicateMsg.
type ParticipantRequest struct {
	Op ParticipantOpPayload `json:"op"`
}

// ParticipantResponse echoes the result back to the op driver.
type ParticipantResponse struct {
	Error string `json:"error,omitempty"`
}
