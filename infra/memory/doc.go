// Package memory provides object reuse and epoch-based reclamation for the
// update envelopes shared between the dispatch loop and status readers.
// The dispatch loop retires envelopes as they fall out of the recent-update
// rings; retired envelopes return to the pool only once no reader entered
// before the retirement epoch.
//
// The package is dependency-free and owns no goroutines.
package memory
