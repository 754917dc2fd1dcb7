package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
	"github.com/openfroyo/modelsync/pkg/schema"
)

func attrs(specs map[string]string) map[string]schema.AttributeSpec {
	out := make(map[string]schema.AttributeSpec, len(specs))
	for name, access := range specs {
		storage := "configuration"
		if access == "metric" {
			storage = "runtime"
		}
		out[name] = schema.AttributeSpec{Access: access, Storage: storage}
	}
	return out
}

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry()
	defs := map[string]schema.Definition{
		"": {Attributes: attrs(map[string]string{"name": "read-write", "product-name": "read-only"})},
		"extension=*": {Add: true, Remove: true,
			Attributes: attrs(map[string]string{"module": "read-only"})},
		"system-property=*": {Add: true, Remove: true,
			Attributes: attrs(map[string]string{"value": "read-write"})},
		"socket-binding-group=*": {Add: true, Remove: true,
			Attributes: attrs(map[string]string{"port-offset": "read-write"})},
		"socket-binding-group=*/socket-binding=*": {Add: true, Remove: true,
			Attributes: attrs(map[string]string{"port": "read-write"})},
		"subsystem=logging": {Add: false, OrderedChildren: []string{"handler"}},
		"subsystem=logging/handler=*": {Add: true, Remove: true, AddIndex: true,
			Attributes: attrs(map[string]string{"level": "read-write", "formatter": "read-only", "bytes-written": "metric"})},
		"core-service=platform-mbean": {RuntimeOnly: true},
	}
	for template, def := range defs {
		address, err := schema.ParseAddress(template)
		require.NoError(t, err)
		require.NoError(t, r.Register(address, def))
	}
	return r
}

func TestLoader_FormatsAgree(t *testing.T) {
	l := NewLoader()
	registry := newRegistry(t)

	yamlDoc, err := l.LoadFile("testdata/server.yaml")
	require.NoError(t, err)
	require.NotNil(t, yamlDoc.Model)
	assert.Equal(t, FormatYAML, yamlDoc.Format)

	cueDoc, err := l.LoadFile("testdata/server.cue")
	require.NoError(t, err)
	require.NotNil(t, cueDoc.Model)

	fromYAML := Describe(yamlDoc.Model, registry, nil, zerolog.Nop())
	fromCUE := Describe(cueDoc.Model, registry, nil, zerolog.Nop())
	require.Equal(t, len(fromYAML.Operations), len(fromCUE.Operations))
	for i := range fromYAML.Operations {
		assert.True(t, fromYAML.Operations[i].Equal(fromCUE.Operations[i]),
			"operation %d: %v != %v", i, fromYAML.Operations[i], fromCUE.Operations[i])
	}
	assert.Equal(t, fromYAML.RootAttributes, fromCUE.RootAttributes)
}

func TestDescribe(t *testing.T) {
	doc, err := NewLoader().LoadFile("testdata/server.yaml")
	require.NoError(t, err)

	desc := Describe(doc.Model, newRegistry(t), nil, zerolog.Nop())

	var got []string
	for _, op := range desc.Operations {
		got = append(got, op.String())
	}
	assert.Equal(t, []string{
		"/:write-attribute(name=name,value=server-one)",
		"/extension=org.acme.logging:add",
		"/system-property=app.mode:add",
		"/socket-binding-group=standard:add",
		"/socket-binding-group=standard/socket-binding=http:add",
		"/socket-binding-group=standard/socket-binding=https:add",
		"/subsystem=logging/handler=CONSOLE:add",
		"/subsystem=logging/handler=FILE:add",
	}, got)

	// Metric attributes are not part of the add.
	file := desc.Operations[7]
	assert.Equal(t, map[string]interface{}{"level": "DEBUG", "formatter": "json"}, file.Params)

	assert.Equal(t, []string{"handler"}, desc.OrderedChildTypes.OrderedChildTypes(model.NewPath("subsystem", "logging")))
	assert.Equal(t, "ModelSync", desc.RootAttributes["product-name"])
}

func TestDescribe_FilterAndUnresolved(t *testing.T) {
	root := &model.Resource{Children: []*model.Resource{
		model.NewResource("system-property", "a", map[string]interface{}{"value": "1"}),
		model.NewResource("unknown", "x", nil),
		{Type: "socket-binding-group", Name: "standard", Children: []*model.Resource{
			model.NewResource("socket-binding", "http", map[string]interface{}{"port": float64(8080)}),
		}},
	}}
	filter := engine.NewPathFilterBuilder().
		AddReject(model.NewPath("socket-binding-group", model.Wildcard, "socket-binding", "http")).
		Build()

	desc := Describe(root, newRegistry(t), filter, zerolog.Nop())
	require.Len(t, desc.Operations, 2)
	assert.Equal(t, "/system-property=a", desc.Operations[0].Address.String())
	assert.Equal(t, "/socket-binding-group=standard", desc.Operations[1].Address.String())
}

func TestLoader_OperationDocument(t *testing.T) {
	doc, err := NewLoader().LoadFile("testdata/operations.json")
	require.NoError(t, err)
	require.NotNil(t, doc.Operations)
	assert.Nil(t, doc.Model)

	desc, err := doc.Operations.Description()
	require.NoError(t, err)
	require.Len(t, desc.Operations, 4)
	assert.Equal(t, "/subsystem=logging", desc.Operations[2].Address.String())
	assert.Equal(t, []string{"handler"}, desc.OrderedChildTypes.OrderedChildTypes(model.NewPath("subsystem", "logging")))
	assert.Equal(t, "2.0.0", desc.RootAttributes["release-version"])

	tree, err := engine.BuildTree(desc.Operations, desc.OrderedChildTypes)
	require.NoError(t, err)
	logging, ok := tree.Child(model.Element("subsystem", "logging"))
	require.True(t, ok)
	assert.True(t, logging.OrderedChildTypes["handler"])
}

func TestLoader_Errors(t *testing.T) {
	l := NewLoader()
	tests := []struct {
		name   string
		format Format
		data   string
	}{
		{"root with name", FormatYAML, "type: a\nname: b\n"},
		{"child without name", FormatYAML, "children:\n  - type: path\n"},
		{"child without type", FormatJSON, `{"children":[{"name":"x"}]}`},
		{"duplicate child", FormatYAML, "children:\n  - {type: path, name: a}\n  - {type: path, name: a}\n"},
		{"not an object", FormatJSON, `[1, 2]`},
		{"invalid yaml", FormatYAML, "children: [\n"},
		{"invalid cue", FormatCUE, "children: [\n"},
		{"incomplete cue", FormatCUE, "attributes: name: string\n"},
		{"bad address", FormatJSON, `{"operations":[{"operation":"add","address":"path=a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse([]byte(tt.data), tt.format, "test")
			assert.Error(t, err)
		})
	}

	_, err := l.LoadFile("testdata/model.toml")
	assert.Error(t, err)
}

func TestLoader_WriteModel(t *testing.T) {
	l := NewLoader()
	doc, err := l.LoadFile("testdata/server.yaml")
	require.NoError(t, err)
	registry := newRegistry(t)
	want := Describe(doc.Model, registry, nil, zerolog.Nop())

	dir := t.TempDir()
	for _, name := range []string{"out.yaml", "out.json", "out.cue"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, l.WriteModel(path, doc.Model))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Positive(t, info.Size())

			back, err := l.LoadFile(path)
			require.NoError(t, err)
			got := Describe(back.Model, registry, nil, zerolog.Nop())
			require.Len(t, got.Operations, len(want.Operations))
			for i := range want.Operations {
				assert.True(t, want.Operations[i].Equal(got.Operations[i]), "%v != %v", want.Operations[i], got.Operations[i])
			}
		})
	}
}

func TestSources(t *testing.T) {
	registry := newRegistry(t)
	ctx := context.Background()

	fileSource := NewFileSource("testdata/server.yaml", NewLoader(), registry, nil, zerolog.Nop())
	fromFile, err := fileSource.ReadOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, fromFile.Operations, 8)

	opsSource := NewFileSource("testdata/operations.json", NewLoader(), registry, nil, zerolog.Nop())
	fromOps, err := opsSource.ReadOperations(ctx)
	require.NoError(t, err)
	assert.Len(t, fromOps.Operations, 4)

	live := &model.Resource{Children: []*model.Resource{
		model.NewResource("system-property", "a", map[string]interface{}{"value": "1"}),
	}}
	modelSource := NewModelSource(func() *model.Resource { return live }, registry, nil, zerolog.Nop())
	fromModel, err := modelSource.ReadOperations(ctx)
	require.NoError(t, err)
	require.Len(t, fromModel.Operations, 1)
	assert.Equal(t, model.OpAdd, fromModel.Operations[0].Name)

	empty := NewModelSource(func() *model.Resource { return nil }, registry, nil, zerolog.Nop())
	fromEmpty, err := empty.ReadOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, fromEmpty.Operations)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = fileSource.ReadOperations(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValidate(t *testing.T) {
	root := &model.Resource{Children: []*model.Resource{
		model.NewResource("system-property", "a", map[string]interface{}{"value": "1", "colour": "red"}),
		model.NewResource("unknown", "x", nil),
		{Type: "subsystem", Name: "logging", Children: []*model.Resource{
			model.NewResource("handler", "FILE", map[string]interface{}{"bytes-written": float64(3)}),
		}},
	}}

	problems := Validate("test.yaml", root, newRegistry(t))
	require.Len(t, problems, 3)

	bySeverity := map[string]int{}
	for _, p := range problems {
		bySeverity[p.Severity]++
	}
	assert.Equal(t, 1, bySeverity["error"])
	assert.Equal(t, 2, bySeverity["warning"])
	assert.Contains(t, problems[1].Error(), "/unknown=x")
}
