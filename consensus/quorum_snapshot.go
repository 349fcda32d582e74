package consensus

import (
	"fmt"

	"tabletraft/types"
)

// QuorumSnapshot is an immutable projection of a quorum from the point of
// view of one peer: its own role, the leader identity, the voting set and
// the majority size. It is rebuilt whenever quorum membership changes and
// never mutated afterwards.
type QuorumSnapshot struct {
	SelfRole     types.PeerRole
	LeaderUuid   string
	VotingPeers  map[string]struct{}
	MajoritySize int
	QuorumSize   int
	ConfigSeqno  int64
}

// BuildQuorumSnapshot walks the quorum once and derives the snapshot for
// selfUuid. A peer not listed in the quorum is a NON_PARTICIPANT. Building
// never fails; a quorum with no voters yields the degenerate majority of 1.
func BuildQuorumSnapshot(quorum types.Quorum, selfUuid string) *QuorumSnapshot {
	role := types.RoleNonParticipant
	votingPeers := make(map[string]struct{})
	leaderUuid := ""

	for _, peer := range quorum.Peers {
		if peer.Uuid == selfUuid {
			role = peer.Role
		}
		if peer.Role.IsVoter() {
			votingPeers[peer.Uuid] = struct{}{}
		}
		if peer.Role == types.RoleLeader {
			leaderUuid = peer.Uuid
		}
	}

	// TODO: Calculating the majority from the number of peers can cause
	// problems without joint consensus. The majority should become a
	// parameter of the quorum itself once joint consensus is supported.
	return &QuorumSnapshot{
		SelfRole:     role,
		LeaderUuid:   leaderUuid,
		VotingPeers:  votingPeers,
		MajoritySize: len(votingPeers)/2 + 1,
		QuorumSize:   len(quorum.Peers),
		ConfigSeqno:  quorum.Seqno,
	}
}

// IsVotingPeer reports whether uuid counts toward the majority.
func (qs *QuorumSnapshot) IsVotingPeer(uuid string) bool {
	_, ok := qs.VotingPeers[uuid]
	return ok
}

func (qs *QuorumSnapshot) String() string {
	return fmt.Sprintf("QuorumSnapshot{role=%s, leader=%q, voters=%d, majority=%d, size=%d, seqno=%d}",
		qs.SelfRole, qs.LeaderUuid, len(qs.VotingPeers), qs.MajoritySize, qs.QuorumSize, qs.ConfigSeqno)
}
