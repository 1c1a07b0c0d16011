// Package repository defines the data access interfaces for linkgraph.
//
// This package provides the repository abstraction layer for persisting
// and retrieving topologies, nodes, links, snapshots and device telemetry.
// The actual implementation is in the sqlite subpackage.
//
// # Point Lookups
//
// The reconciler relies on two point lookups: a node by its canonical
// address within a topology, and a link by its unordered endpoint pair
// within a topology. Both return (nil, nil) when nothing matches. Id
// lookups return a *domain.NotFoundError instead.
//
// # SQLite Implementation
//
// The sqlite implementation uses modernc.org/sqlite with WAL mode and
// foreign keys. Timestamps are stored as unix nanoseconds so expiry scans
// compare integers.
//
// # Schema Migration
//
// The sqlite repository creates the schema on startup.
package repository
