package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfroyo/modelsync/pkg/model"
)

// Mock implementations for testing

// mockRegistry resolves descriptions by the key of the last address element.
type mockRegistry struct {
	root   *ResourceDescription
	byType map[string]*ResourceDescription
}

func (m *mockRegistry) Resolve(address model.Path) (*ResourceDescription, bool) {
	if address.IsRoot() {
		return m.root, m.root != nil
	}
	last, _ := address.Last()
	d, ok := m.byType[last.Key]
	return d, ok
}

func rw(name string) AttributeDefinition {
	return AttributeDefinition{Name: name, Access: AccessReadWrite, Storage: StorageConfiguration}
}

func ro(name string) AttributeDefinition {
	return AttributeDefinition{Name: name, Access: AccessReadOnly, Storage: StorageConfiguration}
}

func newMockRegistry() *mockRegistry {
	resource := func(attrs ...AttributeDefinition) *ResourceDescription {
		return &ResourceDescription{Attributes: attrs, HasAdd: true, HasRemove: true}
	}
	indexed := resource(rw("level"), ro("class"))
	indexed.SupportsAddIndex = true

	return &mockRegistry{
		root: &ResourceDescription{HasAdd: false},
		byType: map[string]*ResourceDescription{
			"extension":                 resource(ro("module")),
			"system-property":           resource(rw("value"), rw("boot-time")),
			"path":                      resource(rw("path"), rw("relative-to")),
			"profile":                   resource(),
			"subsystem":                 resource(rw("level")),
			"handler":                   indexed,
			"rule":                      resource(rw("pattern")),
			"interface":                 resource(rw("inet-address")),
			"socket-binding-group":      resource(ro("default-interface")),
			"socket-binding":            resource(rw("port"), ro("interface")),
			"server-group":              resource(ro("profile")),
			"deployment":                resource(ro("content")),
			"management-client-content": resource(),
			"aaa":                       resource(),
			"zzz":                       resource(),
		},
	}
}

func add(address string, params map[string]interface{}) model.Operation {
	return model.NewAdd(model.MustParsePath(address), params)
}

func write(address, name string, value interface{}) model.Operation {
	return model.NewWriteAttribute(model.MustParsePath(address), name, value)
}

func attrs(kv ...interface{}) map[string]interface{} {
	m := make(map[string]interface{})
	for i := 0; i < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1]
	}
	return m
}

func buildTree(t *testing.T, lookup OrderedChildTypesLookup, ops ...model.Operation) *Node {
	t.Helper()
	tree, err := BuildTree(ops, lookup)
	require.NoError(t, err)
	return tree
}

func reconcile(t *testing.T, current, remote *Node, excluded ExcludePredicate, opts ...SyncOption) *OrderedOperations {
	t.Helper()
	ops, err := ComputeSyncOperations(current, remote, newMockRegistry(), excluded, opts...)
	require.NoError(t, err)
	return ops
}

// flatten expands the composite of a reverse list and returns the operations
// in the order an executor popping the list would run them.
func flatten(list []model.Operation) []model.Operation {
	var out []model.Operation
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Name == model.OpComposite {
			out = append(out, list[i].Steps...)
			continue
		}
		out = append(out, list[i])
	}
	return out
}

func describe(ops []model.Operation) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Name + " " + op.Address.String()
	}
	return out
}
