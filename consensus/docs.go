/*
Package consensus holds the per-replica state core of the raft-based
replication layer: the ReplicaState container with its typed lock entry
points, the quorum snapshot projection, the majority tracker for in-flight
replicates, the OpId watcher set and the durable consensus metadata.

All mutations of the replica state happen under one exclusive lock handed
out by the LockFor* entry points; methods suffixed "Locked" require it.
Durable metadata (term, vote, committed quorum) is flushed before any
change becomes observable.
*/
package consensus
