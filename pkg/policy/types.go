package policy

import (
	"time"
)

// Package is the Rego package every exclusion policy must declare. Modules
// contribute messages to the partial set "reasons"; an address with at least
// one reason is excluded.
const Package = "modelsync.exclude"

// Policy is one Rego module contributing exclusion rules.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with modelsync.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	// UpdatedAt is when the policy was last loaded.
	UpdatedAt time.Time `json:"updated_at"`
}

// Decision is the outcome of evaluating the policies for one address.
type Decision struct {
	// Address is the evaluated address.
	Address string `json:"address"`

	// Excluded is true when any policy gave a reason.
	Excluded bool `json:"excluded"`

	// Reasons lists the messages of the matching rules, sorted.
	Reasons []string `json:"reasons,omitempty"`
}

// Input is the document policies see as "input".
type Input struct {
	// Address is the rendered address, for example "/extension=org.acme".
	Address string `json:"address"`

	// Elements are the address elements in order.
	Elements []Element `json:"elements"`
}

// Element is one key=value step of an address.
type Element struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
