// Package policy decides which addresses a synchronization pass leaves
// alone. Exclusion rules are Rego modules in package modelsync.exclude that
// add messages to the partial set "reasons":
//
//	package modelsync.exclude
//
//	import rego.v1
//
//	reasons contains "deployments are managed elsewhere" if {
//		input.elements[0].key == "deployment"
//	}
//
// An address is excluded when any enabled policy gives a reason. The input
// document carries the rendered address and its elements:
//
//	{"address": "/subsystem=logging", "elements": [{"key": "subsystem", "value": "logging"}]}
//
// Engine.Predicate adapts the engine to engine.ExcludePredicate. Policies
// are loaded from .rego files, or .json files with inline Rego, and Loader.Watch
// reloads them when they change.
package policy
