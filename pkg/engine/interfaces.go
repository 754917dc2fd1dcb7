package engine

import (
	"context"

	"github.com/openfroyo/modelsync/pkg/model"
)

// SchemaRegistry answers questions about registered resource types.
type SchemaRegistry interface {
	// Resolve returns the description registered for a concrete address.
	// Specific registrations take precedence over wildcard ones.
	Resolve(address model.Path) (*ResourceDescription, bool)
}

// OrderedChildTypesLookup reports which child types are ordered beneath an
// address. It is consulted once for every node created while building a tree.
type OrderedChildTypesLookup interface {
	OrderedChildTypes(address model.Path) []string
}

// ExcludePredicate reports whether operations against an address must be
// dropped from a batch.
type ExcludePredicate func(address model.Path) bool

// LocalSource describes the local model as an operation list.
type LocalSource interface {
	ReadOperations(ctx context.Context) (*ModelDescription, error)
}

// RemoteSource fetches the authority's model description. Implementations
// may block on I/O and must honour context cancellation.
type RemoteSource interface {
	ReadOperations(ctx context.Context) (*ModelDescription, error)
}

// Executor applies a batch. It pushes the batch entries onto a stack and
// runs them last-in first-out; a composite entry runs atomically.
type Executor interface {
	Execute(ctx context.Context, batch *Batch) (*ExecutionReport, error)
}

// ExtensionLoader makes an extension module available locally so that the
// resource types it registers can be resolved.
type ExtensionLoader interface {
	Load(ctx context.Context, module string) error
}

// ModelLock serializes passes against the local model. A pass holds it from
// tree construction through submission. TryLock acquires it only if it
// is free.
type ModelLock interface {
	Lock(ctx context.Context) error
	TryLock() bool
	Unlock()
}

// PassRecorder persists pass results.
type PassRecorder interface {
	RecordPass(ctx context.Context, result *PassResult) error
}

// MissingConfigurationFetcher runs after a successful pass with the full
// operation log, so that content referenced by the new configuration can be
// pulled.
type MissingConfigurationFetcher interface {
	FetchMissingConfiguration(ctx context.Context, operations []model.Operation) error
}

// SyncParameters are lifecycle hooks around a pass.
type SyncParameters interface {
	// InitializeModelSync is called once the lock is held.
	InitializeModelSync(ctx context.Context) error

	// Complete is called when the pass ends; rollback is true on failure.
	Complete(ctx context.Context, rollback bool)
}

// EventPublisher publishes pass events.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
