package engine

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/modelsync/pkg/model"
)

// SyncOption configures ComputeSyncOperations.
type SyncOption func(*reconciler)

// WithLogger sets the logger used for unresolved registration warnings.
func WithLogger(logger zerolog.Logger) SyncOption {
	return func(r *reconciler) {
		r.logger = logger
	}
}

// WithBooting marks the pass as part of initial boot.
func WithBooting(booting bool) SyncOption {
	return func(r *reconciler) {
		r.booting = booting
	}
}

type reconciler struct {
	registry SchemaRegistry
	ops      *OrderedOperations
	logger   zerolog.Logger
	booting  bool
}

// ComputeSyncOperations compares current against remote and returns the
// operations that turn current into remote. Neither tree is modified.
func ComputeSyncOperations(
	current, remote *Node,
	registry SchemaRegistry,
	excluded ExcludePredicate,
	opts ...SyncOption,
) (*OrderedOperations, error) {
	if current == nil || remote == nil {
		return nil, NewPermanentError("current and remote trees are required", nil).
			WithCode(ErrCodeValidation)
	}
	if registry == nil {
		return nil, NewPermanentError("schema registry is nil", nil).WithCode(ErrCodeValidation)
	}

	r := &reconciler{registry: registry, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	r.ops = NewOrderedOperations(excluded, r.booting)

	r.processAttributes(current.Address, current.Attributes, remote.Attributes)
	if err := r.processChildren(current, remote); err != nil {
		return nil, err
	}
	return r.ops, nil
}

// processAttributes emits the remote write for every attribute that is new
// or changed and an undefine for every attribute only current has.
func (r *reconciler) processAttributes(address model.Path, current, remote map[string]model.Operation) {
	remaining := make(map[string]bool, len(current))
	for name := range current {
		remaining[name] = true
	}

	for _, name := range model.SortedKeys(remote) {
		delete(remaining, name)
		remoteOp := remote[name]
		if currentOp, ok := current[name]; !ok || !currentOp.Equal(remoteOp) {
			r.ops.Add(remoteOp)
		}
	}

	for _, name := range model.SortedKeys(remaining) {
		r.ops.Add(model.NewUndefineAttribute(address, name))
	}
}

// resolve looks up the registration of a node, recording a warning when
// none exists.
func (r *reconciler) resolve(n *Node) (*ResourceDescription, bool) {
	desc, ok := r.registry.Resolve(n.Address)
	if !ok {
		r.logger.Warn().
			Str("address", n.Address.String()).
			Str("code", ErrCodeUnresolved).
			Msg("Couldn't find a registration, skipping subtree")
		r.ops.recordUnresolved(n.Address)
		return nil, false
	}
	return desc, true
}

// compare reconciles a resource present on both sides.
func (r *reconciler) compare(current, remote *Node, desc *ResourceDescription) error {
	remoteAttributes := remote.Attributes

	if current.Add != nil && remote.Add != nil && !current.Add.Equal(*remote.Add) {
		merged, dropAndReadd, err := r.compareAdds(current, remote, desc)
		if err != nil {
			return err
		}
		if dropAndReadd {
			r.removeSubtree(current, desc, true)
			r.addSubtree(remote, remote.Add)
			return nil
		}
		remoteAttributes = merged
	}

	r.processAttributes(current.Address, current.Attributes, remoteAttributes)
	return r.processChildren(current, remote)
}

// compareAdds diffs two add operations attribute by attribute. Read-write
// differences become write or undefine operations merged into a copy of the
// remote attribute set; a read-only difference requests drop-and-recreate.
func (r *reconciler) compareAdds(current, remote *Node, desc *ResourceDescription) (map[string]model.Operation, bool, error) {
	// Extensions are only ever replaced as a whole.
	if current.Address.RootType() == extensionType && len(current.Address) == 1 {
		return nil, true, nil
	}

	merged := make(map[string]model.Operation, len(remote.Attributes))
	for k, v := range remote.Attributes {
		merged[k] = v
	}

	currentParams := current.Add.Params
	remoteParams := remote.Add.Params
	for _, attr := range desc.Attributes {
		if !attr.IsConfiguration() {
			continue
		}
		hasCurrent := model.IsDefined(currentParams, attr.Name)
		hasRemote := model.IsDefined(remoteParams, attr.Name)

		switch attr.Access {
		case AccessReadWrite:
			var op model.Operation
			switch {
			case hasRemote && (!hasCurrent || !model.ValuesEqual(currentParams[attr.Name], remoteParams[attr.Name])):
				op = model.NewWriteAttribute(current.Address, attr.Name, remoteParams[attr.Name])
			case !hasRemote && hasCurrent:
				op = model.NewUndefineAttribute(current.Address, attr.Name)
			default:
				continue
			}
			if _, exists := merged[attr.Name]; exists {
				return nil, false, NewPermanentError(
					fmt.Sprintf("attribute %s is both written explicitly and changed in add", attr.Name), nil).
					WithCode(ErrCodeInternal).
					WithResource(current.Address.String())
			}
			merged[attr.Name] = op

		case AccessReadOnly:
			var currentValue, remoteValue interface{}
			if hasCurrent {
				currentValue = currentParams[attr.Name]
			}
			if hasRemote {
				remoteValue = remoteParams[attr.Name]
			}
			if !model.ValuesEqual(currentValue, remoteValue) {
				return nil, true, nil
			}
		}
	}
	return merged, false, nil
}

// addSubtree emits everything needed to create remote and its descendants.
// add replaces remote.Add so that callers can stamp an index on it.
func (r *reconciler) addSubtree(remote *Node, add *model.Operation) {
	if add != nil {
		r.ops.Add(*add)
	}
	for _, name := range model.SortedKeys(remote.Attributes) {
		r.ops.Add(remote.Attributes[name])
	}
	for _, op := range remote.Operations {
		r.ops.Add(op)
	}
	for _, t := range remote.ChildTypes() {
		for _, child := range remote.Children(t) {
			if _, ok := r.resolve(child); ok {
				r.addSubtree(child, child.Add)
			}
		}
	}
}

// removeSubtree emits the removes for current and its descendants. The
// parent's remove is emitted first; the collection reverses removes so the
// children run before it.
func (r *reconciler) removeSubtree(current *Node, desc *ResourceDescription, forReadd bool) {
	if desc.HasRemove {
		r.ops.Add(model.NewRemove(current.Address, forReadd))
	}
	for _, t := range current.ChildTypes() {
		for _, child := range current.Children(t) {
			if childDesc, ok := r.resolve(child); ok {
				r.removeSubtree(child, childDesc, forReadd)
			}
		}
	}
}
