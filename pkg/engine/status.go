package engine

import (
	"encoding/json"
	"fmt"
)

// PassStatus is the state of a synchronization pass.
type PassStatus string

const (
	// PassStatusIdle indicates no pass is running.
	PassStatusIdle PassStatus = "idle"

	// PassStatusBuildingLocalTree indicates the local operation list is being
	// read and turned into a tree.
	PassStatusBuildingLocalTree PassStatus = "building-local-tree"

	// PassStatusAwaitingRemoteTree indicates the local tree is ready and the
	// pass waits for the remote description.
	PassStatusAwaitingRemoteTree PassStatus = "awaiting-remote-tree"

	// PassStatusReconciling indicates both trees exist and the diff is being computed.
	PassStatusReconciling PassStatus = "reconciling"

	// PassStatusSubmitting indicates the batch has been handed to the executor.
	PassStatusSubmitting PassStatus = "submitting"

	// PassStatusComplete indicates the pass finished without failures.
	PassStatusComplete PassStatus = "complete"

	// PassStatusFailed indicates the pass aborted.
	PassStatusFailed PassStatus = "failed"
)

var passTransitions = map[PassStatus][]PassStatus{
	PassStatusIdle:               {PassStatusBuildingLocalTree, PassStatusFailed},
	PassStatusBuildingLocalTree:  {PassStatusAwaitingRemoteTree, PassStatusFailed},
	PassStatusAwaitingRemoteTree: {PassStatusReconciling, PassStatusFailed},
	PassStatusReconciling:        {PassStatusSubmitting, PassStatusComplete, PassStatusFailed},
	PassStatusSubmitting:         {PassStatusComplete, PassStatusFailed},
	PassStatusComplete:           {PassStatusIdle},
	PassStatusFailed:             {PassStatusIdle},
}

// CanTransition reports whether next may follow s.
func (s PassStatus) CanTransition(next PassStatus) bool {
	for _, allowed := range passTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the pass has finished.
func (s PassStatus) IsTerminal() bool {
	return s == PassStatusComplete || s == PassStatusFailed
}

// IsActive returns true while a pass holds the model lock.
func (s PassStatus) IsActive() bool {
	return s != PassStatusIdle && !s.IsTerminal()
}

// Validate checks if the pass status is valid.
func (s PassStatus) Validate() error {
	if _, ok := passTransitions[s]; !ok {
		return fmt.Errorf("invalid pass status: %s", s)
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s PassStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *PassStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = PassStatus(str)
	return s.Validate()
}

// PassMode selects what a pass does with the computed batch.
type PassMode string

const (
	// PassModeSync submits the batch to the executor.
	PassModeSync PassMode = "sync"

	// PassModeBoot is PassModeSync during initial boot. Hard-coded
	// management client content is only applied in this mode.
	PassModeBoot PassMode = "boot"

	// PassModeDiff computes the batch without submitting it.
	PassModeDiff PassMode = "diff"
)

// Validate checks if the pass mode is valid.
func (m PassMode) Validate() error {
	switch m {
	case PassModeSync, PassModeBoot, PassModeDiff:
		return nil
	default:
		return fmt.Errorf("invalid pass mode: %s", m)
	}
}

// Bucket names the OrderedOperations bucket an operation was classified into.
type Bucket string

const (
	BucketExtensionAdds       Bucket = "extension-adds"
	BucketExtensionRemoves    Bucket = "extension-removes"
	BucketNonExtensionAdds    Bucket = "non-extension-adds"
	BucketNonExtensionRemoves Bucket = "non-extension-removes"
	BucketLogOnly             Bucket = "log-only"
	BucketExcluded            Bucket = "excluded"
)

// EventType represents the type of event in the pass timeline.
type EventType string

const (
	// EventTypePassStarted indicates a pass acquired the model lock.
	EventTypePassStarted EventType = "pass_started"

	// EventTypePassCompleted indicates a pass has completed.
	EventTypePassCompleted EventType = "pass_completed"

	// EventTypePassFailed indicates a pass has failed.
	EventTypePassFailed EventType = "pass_failed"

	// EventTypeStatusChanged indicates the pass moved to a new state.
	EventTypeStatusChanged EventType = "status_changed"

	// EventTypeExtensionLoaded indicates a missing extension was loaded.
	EventTypeExtensionLoaded EventType = "extension_loaded"

	// EventTypeUnresolved indicates a subtree was skipped for lack of a registration.
	EventTypeUnresolved EventType = "unresolved_registration"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypePassFailed:
		return "error"
	case EventTypeUnresolved:
		return "warning"
	default:
		return "info"
	}
}
