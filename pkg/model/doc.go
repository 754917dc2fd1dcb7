// Package model defines the value types shared by every modelsync package:
// resource addresses (Path), management operations (Operation) and concrete
// configuration models (Resource).
//
// Addresses render as /key=value/key=value:
//
//	p := model.NewPath("subsystem", "logging", "logger", "com.acme")
//	p.String() // "/subsystem=logging/logger=com.acme"
//
// Operations are plain data. Constructors exist for the kinds the
// reconciliation engine emits:
//
//	model.NewAdd(p, map[string]interface{}{"level": "INFO"})
//	model.NewWriteAttribute(p, "level", "DEBUG")
//	model.NewUndefineAttribute(p, "filter")
//	model.NewRemove(p, false)
//
// Values read from documents should pass through Normalize so that numbers
// decoded by different parsers compare equal.
package model
