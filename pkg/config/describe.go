package config

import (
	"github.com/rs/zerolog"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
)

// Describe turns a concrete model into the operations that recreate it.
//
// A resource whose type has an add handler is described by one add carrying
// its defined configuration attributes. Otherwise, and always for the root,
// every defined writable configuration attribute becomes a write-attribute.
// Runtime-only resources and subtrees rejected by filter are skipped, and a
// resource without a registration is logged and skipped with its subtree.
// The ordered child types of every described resource are recorded.
func Describe(root *model.Resource, registry engine.SchemaRegistry, filter *engine.PathFilter, logger zerolog.Logger) *engine.ModelDescription {
	d := &describer{
		registry: registry,
		filter:   filter,
		logger:   logger,
		desc: &engine.ModelDescription{
			OrderedChildTypes: make(engine.OrderedChildTypes),
			RootAttributes:    copyAttributes(root.Attributes),
		},
	}

	rootDesc, ok := registry.Resolve(model.Root)
	if !ok {
		rootDesc = &engine.ResourceDescription{}
	}
	d.writeAttributes(model.Root, root, rootDesc)
	d.recordOrdered(model.Root, rootDesc)
	d.children(model.Root, root)
	return d.desc
}

type describer struct {
	registry engine.SchemaRegistry
	filter   *engine.PathFilter
	logger   zerolog.Logger
	desc     *engine.ModelDescription
}

func (d *describer) resource(address model.Path, r *model.Resource) {
	if !d.filter.Accepts(address) {
		d.logger.Debug().Str("address", address.String()).Msg("Skipping filtered resource")
		return
	}
	rd, ok := d.registry.Resolve(address)
	if !ok {
		d.logger.Warn().Str("address", address.String()).Msg("No registration found, skipping resource")
		return
	}
	if rd.RuntimeOnly {
		return
	}

	if rd.HasAdd {
		params := make(map[string]interface{})
		for _, attr := range rd.Attributes {
			if attr.IsConfiguration() && model.IsDefined(r.Attributes, attr.Name) {
				params[attr.Name] = r.Attributes[attr.Name]
			}
		}
		d.desc.Operations = append(d.desc.Operations, model.NewAdd(address, params))
	} else {
		d.writeAttributes(address, r, rd)
	}

	d.recordOrdered(address, rd)
	d.children(address, r)
}

func (d *describer) children(address model.Path, r *model.Resource) {
	for _, child := range r.Children {
		d.resource(address.Child(child.Type, child.Name), child)
	}
}

func (d *describer) writeAttributes(address model.Path, r *model.Resource, rd *engine.ResourceDescription) {
	for _, attr := range rd.Attributes {
		if !attr.IsConfiguration() || attr.Access != engine.AccessReadWrite {
			continue
		}
		if model.IsDefined(r.Attributes, attr.Name) {
			d.desc.Operations = append(d.desc.Operations,
				model.NewWriteAttribute(address, attr.Name, r.Attributes[attr.Name]))
		}
	}
}

func (d *describer) recordOrdered(address model.Path, rd *engine.ResourceDescription) {
	if len(rd.OrderedChildTypes) > 0 {
		d.desc.OrderedChildTypes.Set(address, rd.OrderedChildTypes...)
	}
}

func copyAttributes(m map[string]interface{}) map[string]interface{} {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
