// Package domain defines the core types of the linkgraph link-state store.
//
// This package contains the entities that make up a managed network graph
// and the canonical graph representation exchanged with parsers, the differ
// and API consumers.
//
// # Core Types
//
// Topology is one managed graph. It is either fetched from a URL on a
// schedule (StrategyFetch) or pushed by external agents that know its shared
// key (StrategyReceive).
//
// Node is a network entity identified by its first address (the canonical
// identifier). Remaining addresses are local addresses.
//
// Link connects two nodes of the same topology and carries a cost and an
// up/down status. Links are never removed by reconciliation, they go down.
//
// Snapshot is a dated serialization of a topology's full graph.
//
// Graph is the canonical NetJSON NetworkGraph representation.
//
// # Errors
//
// ValidationError, ParseError, NotFoundError and AuthorizationError form the
// error taxonomy shared by all layers. Use errors.As or the Is* helpers to
// classify them.
//
// # Design Principles
//
// - No database or external dependencies
// - Validation lives next to the data it guards
// - Serialization hooks (LabelResolver) are composed, never patched in
package domain
