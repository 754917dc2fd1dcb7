package engine

import (
	"time"

	"github.com/openfroyo/modelsync/pkg/model"
)

// AttributeAccess describes how an attribute may be changed.
type AttributeAccess string

const (
	// AccessReadWrite attributes may be changed with write-attribute.
	AccessReadWrite AttributeAccess = "read-write"

	// AccessReadOnly attributes can only be set by add; changing one
	// requires dropping and recreating the resource.
	AccessReadOnly AttributeAccess = "read-only"

	// AccessMetric attributes are runtime measurements and never synchronized.
	AccessMetric AttributeAccess = "metric"
)

// StorageType describes where an attribute value lives.
type StorageType string

const (
	// StorageConfiguration attributes are part of the persistent configuration.
	StorageConfiguration StorageType = "configuration"

	// StorageRuntime attributes are computed by the running process.
	StorageRuntime StorageType = "runtime"
)

// AttributeDefinition describes one attribute of a resource type.
type AttributeDefinition struct {
	// Name is the attribute name.
	Name string `json:"name" validate:"required"`

	// Access is how the attribute may be changed.
	Access AttributeAccess `json:"access" validate:"required,oneof=read-write read-only metric"`

	// Storage is where the attribute value lives.
	Storage StorageType `json:"storage" validate:"required,oneof=configuration runtime"`

	// CapabilityReference names the capability the attribute refers to, if any.
	CapabilityReference string `json:"capability_reference,omitempty"`
}

// IsConfiguration reports whether the attribute is persisted configuration.
func (a AttributeDefinition) IsConfiguration() bool {
	return a.Storage == StorageConfiguration
}

// ResourceDescription is the registry entry for one resource type.
type ResourceDescription struct {
	// Address is the registration address, possibly containing wildcards.
	Address model.Path `json:"address"`

	// Attributes lists the attribute definitions in declaration order.
	Attributes []AttributeDefinition `json:"attributes,omitempty" validate:"dive"`

	// HasAdd indicates the type registers an add handler.
	HasAdd bool `json:"has_add"`

	// HasRemove indicates the type registers a remove handler.
	HasRemove bool `json:"has_remove"`

	// SupportsAddIndex indicates add accepts the add-index parameter.
	SupportsAddIndex bool `json:"supports_add_index"`

	// OrderedChildTypes lists child types whose order is significant.
	OrderedChildTypes []string `json:"ordered_child_types,omitempty"`

	// RuntimeOnly marks resources that are never part of the configuration.
	RuntimeOnly bool `json:"runtime_only"`

	// Operations lists additional operation names the type handles.
	Operations []string `json:"operations,omitempty"`
}

// Attribute returns the definition of name.
func (d *ResourceDescription) Attribute(name string) (AttributeDefinition, bool) {
	for _, a := range d.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttributeDefinition{}, false
}

// HandlesOperation reports whether the type has a handler for the operation.
func (d *ResourceDescription) HandlesOperation(name string) bool {
	switch name {
	case model.OpAdd:
		return d.HasAdd
	case model.OpRemove:
		return d.HasRemove
	case model.OpWriteAttribute, model.OpUndefineAttribute:
		return true
	}
	for _, op := range d.Operations {
		if op == name {
			return true
		}
	}
	return false
}

// ModelDescription is the flat operation form of a model together with the
// ordered-child metadata that accompanies it.
type ModelDescription struct {
	// Operations recreate the model when applied in order.
	Operations []model.Operation `json:"operations"`

	// OrderedChildTypes maps an address to the child types ordered under it.
	OrderedChildTypes OrderedChildTypes `json:"ordered_children,omitempty"`

	// RootAttributes carries read-only attributes of the root resource.
	RootAttributes map[string]interface{} `json:"root_attributes,omitempty"`
}

// Batch is what a pass hands to the executor.
type Batch struct {
	// Operations is the reverse list of the ordered operations collection.
	// The executor pushes each entry onto a stack and runs them last-in first-out.
	Operations []model.Operation `json:"operations"`

	// RootAttributes are written directly on the root resource after the
	// operations succeed.
	RootAttributes map[string]interface{} `json:"root_attributes,omitempty"`
}

// ExecutionReport is the executor's account of a batch.
type ExecutionReport struct {
	// Applied lists the operations that completed, in execution order.
	Applied []model.Operation `json:"applied,omitempty"`

	// Failed is the operation that failed, if any.
	Failed *model.Operation `json:"failed,omitempty"`

	// FailureDescription explains the failure.
	FailureDescription string `json:"failure_description,omitempty"`

	// FailureCode is the engine error code of the failure, when known.
	FailureCode string `json:"failure_code,omitempty"`

	// RolledBack indicates the executor undid the failed step's changes.
	RolledBack bool `json:"rolled_back"`
}

// Succeeded reports whether the whole batch was applied.
func (r *ExecutionReport) Succeeded() bool {
	return r.Failed == nil && r.FailureDescription == ""
}

// DiffResult is the dry-run output of a pass.
type DiffResult struct {
	// ExtensionOps adds missing extensions and removes superfluous ones.
	ExtensionOps []model.Operation `json:"extension-op"`

	// SyncOps is the batch that would be submitted.
	SyncOps []model.Operation `json:"sync-op"`
}

// PassResult summarizes a synchronization pass.
type PassResult struct {
	// ID is the unique identifier for this pass.
	ID string `json:"id"`

	// Mode is what the pass was asked to do.
	Mode PassMode `json:"mode"`

	// Status is the final status.
	Status PassStatus `json:"status"`

	// StartedAt is when the pass acquired the lock.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the pass finished.
	CompletedAt time.Time `json:"completed_at"`

	// Batch is the computed batch.
	Batch *Batch `json:"batch,omitempty"`

	// Diff is set for PassModeDiff.
	Diff *DiffResult `json:"diff,omitempty"`

	// MissingExtensions were declared remotely and absent locally.
	MissingExtensions []string `json:"missing_extensions,omitempty"`

	// SuperfluousExtensions exist locally and not remotely.
	SuperfluousExtensions []string `json:"superfluous_extensions,omitempty"`

	// Unresolved lists addresses skipped for lack of a registration.
	Unresolved []model.Path `json:"unresolved,omitempty"`

	// Excluded counts operations dropped by the exclusion predicate.
	Excluded int `json:"excluded"`

	// Buckets counts operations per OrderedOperations bucket.
	Buckets map[Bucket]int `json:"buckets,omitempty"`

	// Report is the executor report, for submitted passes.
	Report *ExecutionReport `json:"report,omitempty"`

	// Error is the failure, if any.
	Error *EngineError `json:"error,omitempty"`
}

// Duration returns the wall-clock time of the pass.
func (r *PassResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Event represents a timeline event during a pass.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// PassID is the pass this event belongs to.
	PassID string `json:"pass_id"`

	// Address is the resource address, if applicable.
	Address string `json:"address,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}
