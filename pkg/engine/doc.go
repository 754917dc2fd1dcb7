// Package engine reconciles a local configuration model with the model of a
// remote authority.
//
// # Overview
//
// A synchronization pass runs through these states:
//
//  1. building-local-tree - read the local operation list and fold it into a Node tree
//  2. awaiting-remote-tree - wait for the remote description (fetched concurrently)
//  3. reconciling - load missing extensions, diff the trees (ComputeSyncOperations)
//  4. submitting - hand the batch to the Executor
//  5. complete or failed
//
// # Core Types
//
//   - Node: one resource of an operation tree, built by BuildTree
//   - PathFilter: prefix trie of rejected addresses
//   - OrderedOperations: classifies emitted operations and assembles the batch
//   - Synchronizer: drives passes under a ModelLock
//
// # Reconciliation
//
// ComputeSyncOperations walks both trees from the root. Attributes produce
// write-attribute and undefine-attribute operations; differing add operations
// are compared attribute by attribute using the SchemaRegistry, and a changed
// read-only attribute replaces the whole subtree. Children are classified per
// type as ordered insert-capable, ordered not-insert-capable or non-ordered:
//
//	ops, err := engine.ComputeSyncOperations(current, remote, registry, filter.Excludes)
//	if err != nil {
//	    return err
//	}
//	batch := ops.ReverseList()
//
// The batch is meant for a stack-based executor: once pushed, extension
// removes run first, then extension adds, then one composite holding every
// other remove (children before parents) followed by every other add.
//
// # Error Classification
//
// Errors are EngineError values with a class and a code:
//
//   - INVALID_TREE_STATE: malformed operation list
//   - MISSING_EXTENSION: the remote model needs extensions that cannot be loaded
//   - OPERATION_FAILED: the executor rejected an operation
//
// Missing registrations are not errors. The subtree is skipped and its
// address is reported by OrderedOperations.Unresolved.
//
// # Thread Safety
//
// ComputeSyncOperations performs no I/O and does not modify its inputs.
// Synchronizer is safe for concurrent use; passes are serialized by the
// ModelLock and concurrent Diff calls share one pass.
package engine
