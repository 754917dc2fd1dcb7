package engine

import (
	"github.com/openfroyo/modelsync/pkg/model"
)

// childContext classifies the child types of a pair of nodes.
type childContext struct {
	current *Node
	remote  *Node

	// orderedInsertable types can be fixed up with an indexed add.
	orderedInsertable []string

	// orderedNotInsertable types are ordered remotely but not locally; any
	// change of order means removing and re-adding every child.
	orderedNotInsertable []string

	// nonOrdered types use set semantics.
	nonOrdered []string
}

func newChildContext(current, remote *Node) *childContext {
	ctx := &childContext{current: current, remote: remote}

	var types []string
	seen := make(map[string]bool)
	for _, t := range current.ChildTypes() {
		seen[t] = true
		types = append(types, t)
	}
	for _, t := range remote.ChildTypes() {
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	for t := range current.OrderedChildTypes {
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	for t := range remote.OrderedChildTypes {
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	if current.IsRoot() {
		sortRootTypes(types)
	}

	for _, t := range types {
		switch {
		case current.OrderedChildTypes[t]:
			ctx.orderedInsertable = append(ctx.orderedInsertable, t)
		case remote.OrderedChildTypes[t]:
			ctx.orderedNotInsertable = append(ctx.orderedNotInsertable, t)
		default:
			ctx.nonOrdered = append(ctx.nonOrdered, t)
		}
	}
	return ctx
}

// processChildren reconciles the children of two matched nodes.
func (r *reconciler) processChildren(current, remote *Node) error {
	ctx := newChildContext(current, remote)

	for _, t := range ctx.orderedInsertable {
		if err := r.processOrderedChildren(ctx, t, true); err != nil {
			return err
		}
	}
	for _, t := range ctx.orderedNotInsertable {
		if err := r.processOrderedChildren(ctx, t, false); err != nil {
			return err
		}
	}
	for _, t := range ctx.nonOrdered {
		if err := r.processNonOrderedChildren(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// removeCurrentOnly removes the children of one type that remote lacks and
// returns the remaining current children in order.
func (r *reconciler) removeCurrentOnly(ctx *childContext, childType string) []*Node {
	var common []*Node
	for _, c := range ctx.current.Children(childType) {
		if _, ok := ctx.remote.Child(*c.Element); ok {
			common = append(common, c)
			continue
		}
		if desc, ok := r.resolve(c); ok {
			r.removeSubtree(c, desc, false)
		}
	}
	return common
}

func (r *reconciler) processNonOrderedChildren(ctx *childContext, childType string) error {
	r.removeCurrentOnly(ctx, childType)

	for _, remoteChild := range ctx.remote.Children(childType) {
		desc, ok := r.resolve(remoteChild)
		if !ok {
			continue
		}
		if currentChild, exists := ctx.current.Child(*remoteChild.Element); exists {
			if err := r.compare(currentChild, remoteChild, desc); err != nil {
				return err
			}
			continue
		}
		r.addSubtree(remoteChild, remoteChild.Add)
	}
	return nil
}

func (r *reconciler) processOrderedChildren(ctx *childContext, childType string, insertable bool) error {
	current := r.removeCurrentOnly(ctx, childType)
	remote := ctx.remote.Children(childType)

	currentIndexes := make(map[model.PathElement]int, len(current))
	for i, c := range current {
		currentIndexes[*c.Element] = i
	}

	// added holds the remote positions that introduce a new child.
	added := make(map[int]bool)
	firstAdded := -1
	lastCurrent := -1
	differentOrder := false
	allAddsAtEnd := true
	for i, rc := range remote {
		idx, ok := currentIndexes[*rc.Element]
		if !ok {
			added[i] = true
			if firstAdded < 0 {
				firstAdded = i
			}
			if allAddsAtEnd && i <= len(currentIndexes)-1 {
				allAddsAtEnd = false
			}
			continue
		}
		if !differentOrder && idx < lastCurrent {
			differentOrder = true
		}
		lastCurrent = idx
	}

	if !differentOrder && (len(added) == 0 || allAddsAtEnd) {
		for _, c := range current {
			rc, _ := ctx.remote.Child(*c.Element)
			if err := r.compareResolved(c, rc); err != nil {
				return err
			}
		}
		for i, rc := range remote {
			if added[i] {
				if _, ok := r.resolve(rc); ok {
					r.addSubtree(rc, rc.Add)
				}
			}
		}
		return nil
	}

	if insertable && !differentOrder && r.supportsIndexedAdd(remote[firstAdded]) {
		for i, rc := range remote {
			if !added[i] {
				c, _ := ctx.current.Child(*rc.Element)
				if err := r.compareResolved(c, rc); err != nil {
					return err
				}
				continue
			}
			if _, ok := r.resolve(rc); !ok {
				continue
			}
			if rc.Add == nil {
				r.addSubtree(rc, nil)
				continue
			}
			stamped := rc.Add.WithParam(model.ParamAddIndex, i)
			r.addSubtree(rc, &stamped)
		}
		return nil
	}

	// Remove every common child and re-add the remote children in order.
	for _, c := range current {
		if desc, ok := r.resolve(c); ok {
			r.removeSubtree(c, desc, true)
		}
	}
	for _, rc := range remote {
		if _, ok := r.resolve(rc); ok {
			r.addSubtree(rc, rc.Add)
		}
	}
	return nil
}

// supportsIndexedAdd probes the registration of the child at the first
// insertion point. The answer applies to the whole child type.
func (r *reconciler) supportsIndexedAdd(first *Node) bool {
	if first.Add == nil {
		return false
	}
	desc, ok := r.registry.Resolve(first.Address)
	return ok && desc.SupportsAddIndex
}

func (r *reconciler) compareResolved(current, remote *Node) error {
	desc, ok := r.resolve(current)
	if !ok {
		return nil
	}
	return r.compare(current, remote, desc)
}
