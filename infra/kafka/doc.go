// Package kafka is the transport edge: a consumer-group reader for the
// inbound sequence-tagged update stream and a writer publishing resync
// requests when a channel's gap never closes. Sequence metadata rides in
// message headers; the payload stays opaque.
package kafka
