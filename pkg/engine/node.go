package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/modelsync/pkg/model"
)

// rootTypeOrder is the order in which top-level child types of the root are
// processed. Later types may reference earlier ones.
var rootTypeOrder = []string{
	"extension",
	"system-property",
	"path",
	"core-service",
	"profile",
	"interface",
	"socket-binding-group",
	"deployment",
	"deployment-overlay",
	"management-client-content",
	"server-group",
}

var rootTypePriority = func() map[string]int {
	m := make(map[string]int, len(rootTypeOrder))
	for i, t := range rootTypeOrder {
		m[t] = i
	}
	return m
}()

// sortRootTypes orders types by rootTypeOrder; unlisted types come after all
// listed ones in alphabetical order.
func sortRootTypes(types []string) {
	sort.SliceStable(types, func(i, j int) bool {
		pi, iok := rootTypePriority[types[i]]
		pj, jok := rootTypePriority[types[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		case jok:
			return false
		default:
			return types[i] < types[j]
		}
	})
}

// Node is one resource of an operation tree.
type Node struct {
	// Element is the last address element, nil for the root.
	Element *model.PathElement

	// Address is the full address of the node.
	Address model.Path

	// Add is the add operation of the resource, if any.
	Add *model.Operation

	// Attributes maps attribute names to pending write-attribute operations.
	Attributes map[string]model.Operation

	// Operations holds any other operations, in declaration order.
	Operations []model.Operation

	// OrderedChildTypes is the set of child types whose order is significant.
	OrderedChildTypes map[string]bool

	childTypes []string
	children   map[string]*childGroup
}

type childGroup struct {
	order []model.PathElement
	nodes map[model.PathElement]*Node
}

func newNode(element *model.PathElement, address model.Path) *Node {
	return &Node{
		Element:           element,
		Address:           address,
		Attributes:        make(map[string]model.Operation),
		OrderedChildTypes: make(map[string]bool),
		children:          make(map[string]*childGroup),
	}
}

// IsRoot reports whether the node is the synthetic root.
func (n *Node) IsRoot() bool {
	return n.Element == nil
}

// ChildTypes returns the child types of the node. The root returns them in
// priority order; other nodes in order of first declaration.
func (n *Node) ChildTypes() []string {
	types := make([]string, len(n.childTypes))
	copy(types, n.childTypes)
	if n.IsRoot() {
		sortRootTypes(types)
	}
	return types
}

// Children returns the children of one type in declaration order.
func (n *Node) Children(childType string) []*Node {
	g, ok := n.children[childType]
	if !ok {
		return nil
	}
	out := make([]*Node, len(g.order))
	for i, e := range g.order {
		out[i] = g.nodes[e]
	}
	return out
}

// Child returns the direct child for element.
func (n *Node) Child(element model.PathElement) (*Node, bool) {
	g, ok := n.children[element.Key]
	if !ok {
		return nil, false
	}
	c, ok := g.nodes[element]
	return c, ok
}

func (n *Node) getOrCreateChild(element model.PathElement, lookup OrderedChildTypesLookup) *Node {
	g, ok := n.children[element.Key]
	if !ok {
		g = &childGroup{nodes: make(map[model.PathElement]*Node)}
		n.children[element.Key] = g
		n.childTypes = append(n.childTypes, element.Key)
	}
	if c, ok := g.nodes[element]; ok {
		return c
	}

	e := element
	c := newNode(&e, n.Address.Append(element))
	if lookup != nil {
		for _, t := range lookup.OrderedChildTypes(c.Address) {
			c.OrderedChildTypes[t] = true
		}
	}
	g.order = append(g.order, element)
	g.nodes[element] = c
	return c
}

// String renders the tree for debugging.
func (n *Node) String() string {
	var b strings.Builder
	n.write(&b, 0)
	return b.String()
}

func (n *Node) write(b *strings.Builder, depth int) {
	fmt.Fprintf(b, "%sNode: {%s\n", strings.Repeat(" ", depth), n.Address)
	for _, t := range n.ChildTypes() {
		for _, c := range n.Children(t) {
			c.write(b, depth+1)
		}
	}
	fmt.Fprintf(b, "%s}\n", strings.Repeat(" ", depth))
}

// BuildTree folds a flat operation list into a tree. Intermediate nodes are
// created as needed; each new node asks lookup for its ordered child types.
func BuildTree(operations []model.Operation, lookup OrderedChildTypesLookup) (*Node, error) {
	root := newNode(nil, model.Root)
	for _, op := range operations {
		if op.Name == "" {
			return nil, NewInvalidTreeStateError(op.Address.String(), "operation has no name")
		}
		if op.Address.HasWildcard() {
			return nil, NewInvalidTreeStateError(op.Address.String(), "operation address contains a wildcard")
		}

		node := root
		for _, e := range op.Address {
			node = node.getOrCreateChild(e, lookup)
		}
		if !node.Address.Equal(op.Address) {
			return nil, NewInvalidTreeStateError(op.Address.String(),
				fmt.Sprintf("resolved node %s does not match operation address", node.Address))
		}

		switch op.Name {
		case model.OpAdd:
			add := op.Clone()
			node.Add = &add
		case model.OpWriteAttribute:
			name, ok := op.AttributeName()
			if !ok {
				return nil, NewInvalidTreeStateError(op.Address.String(), "write-attribute has no attribute name").
					WithOperation(op.Name)
			}
			node.Attributes[name] = op.Clone()
		default:
			node.Operations = append(node.Operations, op.Clone())
		}
	}
	return root, nil
}

// OrderedChildTypes maps address strings to the child types ordered beneath
// them. It satisfies OrderedChildTypesLookup.
type OrderedChildTypes map[string][]string

// OrderedChildTypes implements OrderedChildTypesLookup.
func (o OrderedChildTypes) OrderedChildTypes(address model.Path) []string {
	if o == nil {
		return nil
	}
	return o[address.String()]
}

// Set records the ordered child types of address.
func (o OrderedChildTypes) Set(address model.Path, types ...string) {
	o[address.String()] = append([]string(nil), types...)
}
