// Package store is the durable side of the gateway: per-channel confirmed
// watermarks (so duplicate suppression survives restarts) and the broadcast
// outbox (applied updates waiting to be re-published downstream). Both live
// in one pebble database.
package store
