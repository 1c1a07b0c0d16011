// Package service implements the graph reconciliation engine of linkgraph.
//
// # Reconciler
//
// Reconciler applies a snapshot to a stored topology. It asks the diff
// package for the added/changed/removed delta between the stored graph
// (up links only) and the snapshot, then writes only the entities whose
// fields differ. Link status changes go through ShouldTransition:
//
//   - fetch topologies flip links on any mismatch
//   - a link reappearing always goes up
//   - a receive topology lets a missing link go down only after it has not
//     been modified for the topology's expiration time
//
// Receive first touches every stored link present in the pushed snapshot
// so links that keep being reported never decay. Nodes and links are never
// deleted by reconciliation. Per-entity failures are logged and recorded in
// the Result; the rest of the snapshot is still applied.
//
// # Sweeper
//
// Sweeper deletes links that stayed down past the link expiration and then
// nodes without links past the node expiration.
//
// # TopologyService
//
// TopologyService is the entry point used by the HTTP handlers, the CLI,
// the scheduler and the mesh aggregator. It holds the per-topology lock for
// every reconciliation and reports multi-topology batches per topology.
//
// # Event System
//
// Status flips are delivered synchronously to an EventSink right after the
// write. EventBus is the default sink; it fans events out to subscriber
// channels without blocking. Callers compose further listeners with Sinks.
package service
