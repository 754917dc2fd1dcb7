// Package config loads the documents that describe configuration models and
// turns them into the operation lists the reconciliation engine consumes.
//
// Two document shapes are understood, each in CUE, YAML or JSON:
//
// Model documents are a concrete resource tree. The top level is the root
// resource; children are listed in order:
//
//	attributes:
//	  name: server-one
//	children:
//	  - type: extension
//	    name: org.acme.logging
//	  - type: subsystem
//	    name: logging
//	    children:
//	      - type: handler
//	        name: CONSOLE
//	        attributes: {level: INFO}
//
// Operation documents carry the flat description directly, with an optional
// ordered-children header:
//
//	operations:
//	  - operation: add
//	    address: /extension=org.acme.logging
//	ordered-children:
//	  /subsystem=logging: [handler]
//
// Describe converts a model into operations against a schema registry.
// FileSource and ModelSource expose documents and live models as engine
// sources.
package config
