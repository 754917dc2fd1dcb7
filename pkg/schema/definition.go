package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
)

// Definition is the document form of a resource registration.
type Definition struct {
	// Attributes maps attribute names to their definitions.
	Attributes map[string]AttributeSpec `json:"attributes,omitempty" validate:"dive"`

	// Add indicates the type registers an add handler.
	Add bool `json:"add"`

	// Remove indicates the type registers a remove handler.
	Remove bool `json:"remove"`

	// AddIndex indicates add accepts the add-index parameter.
	AddIndex bool `json:"add-index"`

	// OrderedChildren lists the child types whose order is significant.
	OrderedChildren []string `json:"ordered-children,omitempty" validate:"dive,required"`

	// RuntimeOnly marks resources that are never part of the configuration.
	RuntimeOnly bool `json:"runtime-only"`

	// Operations lists additional operations the type handles.
	Operations []string `json:"operations,omitempty" validate:"dive,required"`
}

// AttributeSpec is the document form of an attribute definition.
type AttributeSpec struct {
	Access              string `json:"access" validate:"required,oneof=read-write read-only metric"`
	Storage             string `json:"storage" validate:"required,oneof=configuration runtime"`
	CapabilityReference string `json:"capability-reference,omitempty"`
}

// Description converts the definition into a registry entry. Attributes are
// sorted by name.
func (d Definition) Description(address model.Path) *engine.ResourceDescription {
	desc := &engine.ResourceDescription{
		Address:          address,
		HasAdd:           d.Add,
		HasRemove:        d.Remove,
		SupportsAddIndex: d.AddIndex,
		RuntimeOnly:      d.RuntimeOnly,
	}
	for _, name := range model.SortedKeys(d.Attributes) {
		spec := d.Attributes[name]
		desc.Attributes = append(desc.Attributes, engine.AttributeDefinition{
			Name:                name,
			Access:              engine.AttributeAccess(spec.Access),
			Storage:             engine.StorageType(spec.Storage),
			CapabilityReference: spec.CapabilityReference,
		})
	}
	desc.OrderedChildTypes = append(desc.OrderedChildTypes, d.OrderedChildren...)
	desc.Operations = append(desc.Operations, d.Operations...)
	sort.Strings(desc.Operations)
	return desc
}

// ParseAddress parses a registration address. The leading slash is optional
// and the empty string denotes the root.
func ParseAddress(s string) (model.Path, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "/" {
		return model.Root, nil
	}
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	address, err := model.ParsePath(s)
	if err != nil {
		return nil, fmt.Errorf("invalid registration address %q: %w", s, err)
	}
	return address, nil
}

// definitionSchema constrains every entry of a schema document and supplies
// the defaults.
const definitionSchema = `
#Attribute: {
	access:  *"read-write" | "read-only" | "metric"
	storage: *"configuration" | "runtime"
	"capability-reference"?: string
}

#Definition: {
	attributes?: {[string]: #Attribute}
	add:    *true | bool
	remove: *true | bool
	"add-index":    *false | bool
	"runtime-only": *false | bool
	"ordered-children"?: [...string]
	operations?: [...string]
}
`
