// Package schema implements the resource registry consulted during
// reconciliation.
//
// Registrations are authored in CUE. A schema document declares a
// "resources" struct keyed by address template; "*" matches any value:
//
//	resources: {
//		"extension=*": {}
//		"subsystem=logging": {
//			"ordered-children": ["handler"]
//		}
//		"subsystem=logging/handler=*": {
//			"add-index": true
//			attributes: {
//				level: {}
//				"named-formatter": {access: "read-only"}
//			}
//		}
//	}
//
// Every entry is unified with a #Definition schema that supplies defaults
// (add and remove handlers present, read-write configuration attributes) and
// is then checked with validator struct tags.
//
// Resolution walks a trie of templates. At each level an exact value is
// tried before the wildcard, backtracking when the exact branch has no
// registration deeper down. Results are cached until the next registration.
package schema
