package engine

import "github.com/openfroyo/modelsync/pkg/model"

// PathFilter is a prefix trie of rejected addresses. Rejecting an address
// rejects its whole subtree; a wildcard value in a rejected address matches
// every value of that key.
type PathFilter struct {
	accept bool
	root   *filterNode
}

type filterNode struct {
	accept   bool
	children map[string]*filterNode
}

func newFilterNode() *filterNode {
	return &filterNode{accept: true, children: make(map[string]*filterNode)}
}

// PathFilterBuilder collects rejected addresses.
type PathFilterBuilder struct {
	accept  bool
	rejects []model.Path
}

// NewPathFilterBuilder returns a builder whose filter accepts the root.
func NewPathFilterBuilder() *PathFilterBuilder {
	return &PathFilterBuilder{accept: true}
}

// SetAccept sets the decision returned for the root address.
func (b *PathFilterBuilder) SetAccept(accept bool) *PathFilterBuilder {
	b.accept = accept
	return b
}

// AddReject rejects address and everything beneath it.
func (b *PathFilterBuilder) AddReject(address model.Path) *PathFilterBuilder {
	b.rejects = append(b.rejects, address)
	return b
}

// Build creates the filter.
func (b *PathFilterBuilder) Build() *PathFilter {
	f := &PathFilter{accept: b.accept, root: newFilterNode()}
	for _, address := range b.rejects {
		f.addReject(address)
	}
	return f
}

func (f *PathFilter) addReject(address model.Path) {
	if len(address) == 0 {
		f.accept = false
		return
	}
	current := f.root
	for i, e := range address {
		key, ok := current.children[e.Key]
		if !ok {
			key = newFilterNode()
			current.children[e.Key] = key
		}
		value, ok := key.children[e.Value]
		if !ok {
			value = newFilterNode()
			key.children[e.Value] = value
		}
		if i == len(address)-1 {
			value.accept = false
		}
		current = value
	}
}

// Accepts reports whether address is outside every rejected subtree. The
// root address gets the builder's accept decision.
func (f *PathFilter) Accepts(address model.Path) bool {
	if f == nil {
		return true
	}
	if len(address) == 0 {
		return f.accept
	}
	current := f.root
	for _, e := range address {
		key, ok := current.children[e.Key]
		if !ok {
			return true
		}
		next, ok := key.children[e.Value]
		if !ok {
			next, ok = key.children[model.Wildcard]
		}
		if !ok {
			return true
		}
		if !next.accept {
			return false
		}
		current = next
	}
	return true
}

// Excludes adapts the filter to an ExcludePredicate.
func (f *PathFilter) Excludes(address model.Path) bool {
	return !f.Accepts(address)
}

// AnyExcludes combines predicates; nil entries are ignored.
func AnyExcludes(predicates ...ExcludePredicate) ExcludePredicate {
	return func(address model.Path) bool {
		for _, p := range predicates {
			if p != nil && p(address) {
				return true
			}
		}
		return false
	}
}
