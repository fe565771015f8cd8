// Package service orchestrates the gateway: per-channel waiters, the
// single-threaded dispatch loop, the applier chain (channel state, journal,
// outbox, watermark), boot restore, the snapshot job and resync escalation.
//
// It provides a clean API for ingesting and querying updates, decoupled
// from network transports like Kafka and gRPC.
package service
