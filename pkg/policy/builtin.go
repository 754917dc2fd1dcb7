package policy

import (
	"time"
)

// ServerPolicyName names the built-in server exclusion policy.
const ServerPolicyName = "server-defaults"

// BuiltinPolicies returns the policies shipped with modelsync. They are
// disabled unless the engine is created with WithServerDefaults.
func BuiltinPolicies() []Policy {
	return []Policy{
		serverDefaultsPolicy(),
	}
}

// serverDefaultsPolicy excludes what a standalone server never takes from
// the generic reconciliation: top-level extensions, which the extension
// loader handles, and paths the server marks read-only.
func serverDefaultsPolicy() Policy {
	return Policy{
		Name:        ServerPolicyName,
		Description: "Excludes top-level extensions and read-only paths on a standalone server",
		Enabled:     false,
		Builtin:     true,
		Tags:        []string{"server"},
		UpdatedAt:   time.Now(),
		Rego: `package modelsync.exclude

import rego.v1

reasons contains "extensions are handled by the extension loader" if {
	count(input.elements) == 1
	input.elements[0].key == "extension"
}

reasons contains msg if {
	count(input.elements) == 1
	input.elements[0].key == "path"
	name := input.elements[0].value
	name in data.modelsync.read_only_paths
	msg := sprintf("path %s is read-only", [name])
}
`,
	}
}
