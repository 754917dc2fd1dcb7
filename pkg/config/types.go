package config

import (
	"fmt"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
)

// Format identifies the encoding of a document.
type Format string

const (
	// FormatCUE documents are evaluated with the CUE runtime.
	FormatCUE Format = "cue"

	// FormatYAML documents are decoded with yaml.v3.
	FormatYAML Format = "yaml"

	// FormatJSON documents are decoded with encoding/json.
	FormatJSON Format = "json"
)

// Document is a loaded model or operation document. Exactly one of Model and
// Operations is set.
type Document struct {
	// Source is the file the document was read from.
	Source string `json:"source"`

	// Format is the encoding the document was read in.
	Format Format `json:"format"`

	// Model is the concrete configuration tree of a model document.
	Model *model.Resource `json:"model,omitempty"`

	// Operations is the content of an operation document.
	Operations *OperationDocument `json:"operations,omitempty"`
}

// OperationDocument is the flat form of a model: the operations that
// recreate it plus the metadata that accompanies them.
type OperationDocument struct {
	// Operations recreate the model when applied in order.
	Operations []model.Operation `json:"operations"`

	// OrderedChildren maps an address to the child types ordered under it.
	OrderedChildren map[string][]string `json:"ordered-children,omitempty"`

	// RootAttributes are attributes of the root resource.
	RootAttributes map[string]interface{} `json:"root-attributes,omitempty"`
}

// Description converts the document into a model description. Addresses of
// the ordered-children header are canonicalized.
func (d *OperationDocument) Description() (*engine.ModelDescription, error) {
	desc := &engine.ModelDescription{
		Operations:        make([]model.Operation, len(d.Operations)),
		OrderedChildTypes: make(engine.OrderedChildTypes, len(d.OrderedChildren)),
		RootAttributes:    d.RootAttributes,
	}
	for i, op := range d.Operations {
		desc.Operations[i] = op.Clone()
	}
	for key, types := range d.OrderedChildren {
		address, err := model.ParsePath(key)
		if err != nil {
			return nil, fmt.Errorf("ordered-children: %w", err)
		}
		desc.OrderedChildTypes.Set(address, types...)
	}
	return desc, nil
}

// ValidationError is a problem found in a document, with its location.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Address is the resource the problem concerns.
	Address string `json:"address,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`

	// Severity is error, warning or info.
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("%s: %s: %s", e.File, e.Address, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}
