// Package handler implements the HTTP surface of linkgraph.
//
// Fetch topologies can be refreshed on demand, receive topologies accept
// pushed snapshots authenticated by their key, and devices report the
// telemetry the mesh aggregator builds topologies from. Published graphs
// and their daily snapshots are served as NetJSON NetworkGraph documents.
//
// # Routes
//
//	GET  /api/topologies
//	GET  /api/topologies/{id}
//	GET  /api/topologies/{id}/history[?date=YYYY-MM-DD]
//	POST /api/topologies/{id}/update
//	POST /api/topologies/{id}/receive?key=...
//	POST /api/telemetry
//	GET  /events
//	GET  /metrics
//
// # Errors
//
// Error responses are JSON objects with an error and optional details.
// Validation and parse failures of pushed payloads map to 400, a source
// that cannot be fetched or parsed maps to 502, an unknown or unpublished
// topology to 404 and a wrong key to 403.
package handler
