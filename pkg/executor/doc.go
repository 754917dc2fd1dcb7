// Package executor applies reconciliation batches to an in-memory
// configuration model.
//
// The executor is the submission side of a synchronization pass. It resolves
// every operation against the schema registry before dispatching it, and
// reports "no such resource type" or "no handler for operation" when that
// fails. Composite entries are atomic; everything else is applied one entry
// at a time and kept when a later entry fails.
package executor
