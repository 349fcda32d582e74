package types

import (
	"bytes"
	"fmt"

	tmjson "github.com/tendermint/tendermint/libs/json"
)

// PeerRole is the role a peer plays in one tablet's quorum.
type PeerRole uint8

const (
	RoleNonParticipant = PeerRole(0)
	RoleFollower       = PeerRole(1)
	RoleLeader         = PeerRole(2)
	RoleCandidate      = PeerRole(3)
	RoleLearner        = PeerRole(4)
)

func (r PeerRole) String() string {
	switch r {
	case RoleNonParticipant:
		return "NON_PARTICIPANT"
	case RoleFollower:
		return "FOLLOWER"
	case RoleLeader:
		return "LEADER"
	case RoleCandidate:
		return "CANDIDATE"
	case RoleLearner:
		return "LEARNER"
	default:
		return "UNKNOWN"
	}
}

// IsVoter reports whether peers with this role count toward the majority.
func (r PeerRole) IsVoter() bool {
	return r == RoleLeader || r == RoleFollower
}

// QuorumPeer is one entry in a quorum: a permanent peer identity plus the
// role it currently plays.
type QuorumPeer struct {
	Uuid string   `json:"permanent_uuid"`
	Role PeerRole `json:"role"`
}

// Quorum is the set of peers replicating one tablet, together with a
// sequence number bumped on every configuration change.
//
// NOTE: all reads should copy the value for safety; quorums handed to the
// consensus state are treated as immutable.
type Quorum struct {
	Peers []QuorumPeer `json:"peers"`
	Seqno int64        `json:"seqno"`
}

// Copy makes a deep copy of the quorum.
func (q Quorum) Copy() Quorum {
	peers := make([]QuorumPeer, len(q.Peers))
	copy(peers, q.Peers)
	return Quorum{Peers: peers, Seqno: q.Seqno}
}

// ValidateBasic checks the structural invariants: peer uuids are unique and
// non-empty, and at most one peer holds the LEADER role.
func (q Quorum) ValidateBasic() error {
	leaders := 0
	seen := make(map[string]struct{}, len(q.Peers))
	for i, peer := range q.Peers {
		if peer.Uuid == "" {
			return fmt.Errorf("peer #%d has empty uuid", i)
		}
		if _, ok := seen[peer.Uuid]; ok {
			return fmt.Errorf("duplicate peer uuid %q", peer.Uuid)
		}
		seen[peer.Uuid] = struct{}{}
		if peer.Role == RoleLeader {
			leaders++
		}
	}
	if leaders > 1 {
		return fmt.Errorf("quorum has %d leaders", leaders)
	}
	return nil
}

// Bytes returns the canonical serialized form of the quorum. Two quorums
// are the same configuration iff their Bytes are equal.
func (q Quorum) Bytes() []byte {
	bz, err := tmjson.Marshal(q)
	if err != nil {
		panic(err)
	}
	return bz
}

func (q Quorum) Equals(other Quorum) bool {
	return bytes.Equal(q.Bytes(), other.Bytes())
}

func (q Quorum) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Quorum{seqno=%d, peers=[", q.Seqno)
	for i, peer := range q.Peers {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%s", peer.Uuid, peer.Role)
	}
	b.WriteString("]}")
	return b.String()
}
