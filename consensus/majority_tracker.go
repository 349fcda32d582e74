package consensus

import (
	"fmt"
	"sync"

	"github.com/tendermint/tendermint/libs/log"

	"tabletraft/types"
)

// MajorityTracker follows the replication progress of a single in-flight
// replicate: it counts acknowledgements from peers and releases waiters
// once a majority of the voting peers has acked.
//
// Double-acks are the caller's responsibility to prevent; the tracker
// counts blindly.
type MajorityTracker struct {
	logger log.Logger

	opId        types.OpId
	majority    int
	votingPeers map[string]struct{}
	totalPeers  int

	mtx               sync.Mutex
	replicatedCount   int
	remainingMajority int
	doneCh            chan struct{}
}

func NewMajorityTracker(
	opId types.OpId,
	votingPeers map[string]struct{},
	majority int,
	totalPeers int,
	logger log.Logger,
) *MajorityTracker {
	t := &MajorityTracker{
		logger:            logger,
		opId:              opId,
		majority:          majority,
		votingPeers:       votingPeers,
		totalPeers:        totalPeers,
		remainingMajority: majority,
		doneCh:            make(chan struct{}),
	}
	if majority == 0 {
		close(t.doneCh)
	}
	return t
}

// AckPeer records an acknowledgement from uuid. Acks from voting peers
// move the tracker toward completion; acks from non-voters only bump the
// replicated count.
func (t *MajorityTracker) AckPeer(uuid string) {
	if uuid == "" {
		panic("peer acked with empty uuid")
	}
	t.mtx.Lock()
	defer t.mtx.Unlock()

	if _, voting := t.votingPeers[uuid]; voting && t.remainingMajority > 0 {
		t.remainingMajority--
		if t.remainingMajority == 0 {
			close(t.doneCh)
		}
	}
	t.replicatedCount++
	if t.replicatedCount > t.totalPeers {
		panic(fmt.Sprintf("more acks than peers: %s", t.toStringUnlocked()))
	}
}

// IsDone reports whether a majority of voting peers acked.
func (t *MajorityTracker) IsDone() bool {
	select {
	case <-t.doneCh:
		return true
	default:
		return false
	}
}

// IsAllDone reports whether every peer acked.
func (t *MajorityTracker) IsAllDone() bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.replicatedCount >= t.totalPeers
}

// Wait blocks until a majority of voting peers acked.
func (t *MajorityTracker) Wait() {
	<-t.doneCh
}

// OpId returns the op this tracker follows.
func (t *MajorityTracker) OpId() types.OpId {
	return t.opId
}

// Discard is called when the round is abandoned (e.g. leader change). An
// incomplete round is worth a warning but is not fatal.
func (t *MajorityTracker) Discard() {
	if !t.IsDone() {
		t.logger.Info("discarding incomplete operation", "tracker", t.String())
	}
}

func (t *MajorityTracker) String() string {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.toStringUnlocked()
}

func (t *MajorityTracker) toStringUnlocked() string {
	return fmt.Sprintf("MajorityTracker{id=%s, done=%v, peers=%d, voters=%d, acked=%d, majority=%d}",
		t.opId, t.remainingMajority == 0, t.totalPeers, len(t.votingPeers), t.replicatedCount, t.majority)
}
