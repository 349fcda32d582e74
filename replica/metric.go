package replica

import (
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newReplicaMetric() *replicaMetric {
	return &replicaMetric{
		State: "INITIALIZED",
		Role:  "NON_PARTICIPANT",
	}
}

type replicaMetric struct {
	mtx sync.RWMutex

	State       string `json:"state"`
	Role        string `json:"role"`
	CurrentTerm uint64 `json:"current_term"`

	Received   string `json:"received_op_id"`
	Replicated string `json:"replicated_op_id"`
	Committed  string `json:"committed_op_id"`

	PendingOps int `json:"pending_ops"`
}

func (rm *replicaMetric) JSONString() string {
	rm.mtx.RLock()
	defer rm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(rm)
	return s
}

func (rm *replicaMetric) MarkState(state string) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.State = state
}

func (rm *replicaMetric) MarkRole(role string) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.Role = role
}

func (rm *replicaMetric) MarkTerm(term uint64) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.CurrentTerm = term
}

func (rm *replicaMetric) MarkWatermarks(received, replicated, committed string) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.Received = received
	rm.Replicated = replicated
	rm.Committed = committed
}

func (rm *replicaMetric) MarkPendingOps(n int) {
	rm.mtx.Lock()
	defer rm.mtx.Unlock()
	rm.PendingOps = n
}
