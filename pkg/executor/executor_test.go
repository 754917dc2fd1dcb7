package executor

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/modelsync/pkg/config"
	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
	"github.com/openfroyo/modelsync/pkg/schema"
)

const testSchema = `
resources: {
	"": {
		add:    false
		remove: false
		attributes: {
			name: {}
			"product-name": {access: "read-only"}
			"release-version": {access: "read-only"}
		}
	}
	"extension=*": attributes: module: access: "read-only"
	"system-property=*": attributes: {
		value: {}
		"boot-time": access: "read-only"
	}
	"subsystem=logging": {
		"ordered-children": ["handler"]
		attributes: "add-logging-api-dependencies": {}
	}
	"subsystem=logging/handler=*": {
		"add-index": true
		operations: ["enable"]
		attributes: {
			level: {}
			formatter: access: "read-only"
		}
	}
	"subsystem=logging/logger=*": attributes: level: {}
	"subsystem=logging/handler=PINNED": remove: false
	"core-service=management": {
		add:    false
		remove: false
		attributes: "banner": {}
	}
}
`

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry()
	require.NoError(t, r.LoadString(testSchema, "test.cue"))
	return r
}

func parseModel(t *testing.T, doc string) *model.Resource {
	t.Helper()
	d, err := config.NewLoader().Parse([]byte(doc), config.FormatYAML, "test.yaml")
	require.NoError(t, err)
	require.NotNil(t, d.Model)
	return d.Model
}

func handlerNames(root *model.Resource) []string {
	logging := root.Child("subsystem", "logging")
	if logging == nil {
		return nil
	}
	var names []string
	for _, h := range logging.ChildrenOfType("handler") {
		names = append(names, h.Name)
	}
	return names
}

func TestExecute_StackOrder(t *testing.T) {
	exec := NewModelExecutor(nil, newRegistry(t), zerolog.Nop())

	batch := &engine.Batch{Operations: []model.Operation{
		model.NewComposite([]model.Operation{
			model.NewAdd(model.NewPath("system-property", "a"), map[string]interface{}{"value": "1"}),
		}),
		model.NewAdd(model.NewPath("extension", "org.acme"), map[string]interface{}{"module": "org.acme"}),
	}}

	report, err := exec.Execute(context.Background(), batch)
	require.NoError(t, err)
	require.True(t, report.Succeeded())
	require.Len(t, report.Applied, 2)
	assert.Equal(t, "/extension=org.acme", report.Applied[0].Address.String())
	assert.Equal(t, "/system-property=a", report.Applied[1].Address.String())

	m := exec.Model()
	assert.Equal(t, "1", m.Child("system-property", "a").Attributes["value"])
}

func TestExecute_CompositeRollsBack(t *testing.T) {
	initial := &model.Resource{Children: []*model.Resource{
		model.NewResource("system-property", "keep", map[string]interface{}{"value": "x"}),
	}}
	exec := NewModelExecutor(initial, newRegistry(t), zerolog.Nop())

	batch := &engine.Batch{Operations: []model.Operation{
		model.NewComposite([]model.Operation{
			model.NewRemove(model.NewPath("system-property", "keep"), false),
			model.NewAdd(model.NewPath("system-property", "new"), nil),
			model.NewAdd(model.NewPath("unknown", "y"), nil),
		}),
	}}

	report, err := exec.Execute(context.Background(), batch)
	require.NoError(t, err)
	assert.False(t, report.Succeeded())
	assert.True(t, report.RolledBack)
	assert.Empty(t, report.Applied)
	require.NotNil(t, report.Failed)
	assert.Equal(t, "/unknown=y", report.Failed.Address.String())
	assert.Contains(t, report.FailureDescription, FailureNoSuchResourceType)
	assert.Equal(t, engine.ErrCodeNoSuchResource, report.FailureCode)

	m := exec.Model()
	assert.NotNil(t, m.Child("system-property", "keep"))
	assert.Nil(t, m.Child("system-property", "new"))
}

func TestExecute_Failures(t *testing.T) {
	tests := []struct {
		name    string
		initial *model.Resource
		op      model.Operation
		want    string
		code    string
	}{
		{
			name: "remove without handler",
			initial: &model.Resource{Children: []*model.Resource{{Type: "subsystem", Name: "logging",
				Children: []*model.Resource{model.NewResource("handler", "PINNED", nil)}}}},
			op:   model.NewRemove(model.NewPath("subsystem", "logging", "handler", "PINNED"), false),
			want: FailureNoHandler,
			code: engine.ErrCodeNoHandler,
		},
		{
			name: "custom operation without handler",
			op:   model.Operation{Name: "reload", Address: model.NewPath("system-property", "a")},
			want: FailureNoHandler,
			code: engine.ErrCodeNoHandler,
		},
		{
			name: "unregistered type",
			op:   model.NewAdd(model.NewPath("deployment", "app.war"), nil),
			want: FailureNoSuchResourceType,
			code: engine.ErrCodeNoSuchResource,
		},
		{
			name: "missing parent",
			op:   model.NewAdd(model.NewPath("subsystem", "logging", "handler", "FILE"), nil),
			want: "does not exist",
		},
		{
			name: "duplicate",
			initial: &model.Resource{Children: []*model.Resource{
				model.NewResource("system-property", "a", nil),
			}},
			op:   model.NewAdd(model.NewPath("system-property", "a"), nil),
			want: "duplicate",
		},
		{
			name: "unsupported add-index",
			op:   model.NewAdd(model.NewPath("system-property", "a"), nil).WithParam(model.ParamAddIndex, 0),
			want: "does not accept",
		},
		{
			name: "unknown attribute",
			op:   model.NewAdd(model.NewPath("system-property", "a"), map[string]interface{}{"colour": "red"}),
			want: "unknown attribute",
		},
		{
			name: "write read-only attribute",
			initial: &model.Resource{Children: []*model.Resource{
				model.NewResource("system-property", "a", nil),
			}},
			op:   model.NewWriteAttribute(model.NewPath("system-property", "a"), "boot-time", true),
			want: "read-only",
		},
		{
			name: "remove missing resource",
			op:   model.NewRemove(model.NewPath("system-property", "a"), false),
			want: "does not exist",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := NewModelExecutor(tt.initial, newRegistry(t), zerolog.Nop())
			report, err := exec.Execute(context.Background(), &engine.Batch{Operations: []model.Operation{tt.op}})
			require.NoError(t, err)
			assert.False(t, report.Succeeded())
			assert.False(t, report.RolledBack)
			assert.Contains(t, report.FailureDescription, tt.want)
			assert.Equal(t, tt.code, report.FailureCode)
		})
	}
}

func TestExecute_FailFast(t *testing.T) {
	exec := NewModelExecutor(nil, newRegistry(t), zerolog.Nop())
	batch := &engine.Batch{Operations: []model.Operation{
		model.NewComposite([]model.Operation{
			model.NewAdd(model.NewPath("system-property", "a"), nil),
		}),
		model.NewAdd(model.NewPath("unknown", "x"), nil),
		model.NewAdd(model.NewPath("extension", "org.acme"), nil),
	}}

	report, err := exec.Execute(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, report.Applied, 1)
	assert.Equal(t, "/extension=org.acme", report.Applied[0].Address.String())
	assert.Nil(t, exec.Model().Child("system-property", "a"), "entries after the failure never run")
}

func TestExecute_ImplicitResources(t *testing.T) {
	exec := NewModelExecutor(nil, newRegistry(t), zerolog.Nop())
	batch := &engine.Batch{
		Operations: []model.Operation{
			model.NewWriteAttribute(model.NewPath("core-service", "management"), "banner", "hello"),
		},
		RootAttributes: map[string]interface{}{"product-name": "ModelSync"},
	}

	report, err := exec.Execute(context.Background(), batch)
	require.NoError(t, err)
	require.True(t, report.Succeeded())

	m := exec.Model()
	assert.Equal(t, "hello", m.Child("core-service", "management").Attributes["banner"])
	assert.Equal(t, "ModelSync", m.Attributes["product-name"])
}

func TestExecute_AttributesAndCustomOperations(t *testing.T) {
	initial := &model.Resource{Children: []*model.Resource{
		{Type: "subsystem", Name: "logging", Children: []*model.Resource{
			model.NewResource("handler", "A", map[string]interface{}{"level": "INFO"}),
			model.NewResource("handler", "C", nil),
		}},
	}}
	exec := NewModelExecutor(initial, newRegistry(t), zerolog.Nop())
	handler := model.NewPath("subsystem", "logging", "handler", "A")

	batch := &engine.Batch{Operations: []model.Operation{
		model.NewComposite([]model.Operation{
			model.NewUndefineAttribute(handler, "level"),
			model.NewAdd(model.NewPath("subsystem", "logging", "handler", "B"), map[string]interface{}{"level": "WARN"}).
				WithParam(model.ParamAddIndex, 1),
			{Name: "enable", Address: handler},
		}),
	}}

	report, err := exec.Execute(context.Background(), batch)
	require.NoError(t, err)
	require.True(t, report.Succeeded(), report.FailureDescription)

	m := exec.Model()
	assert.Equal(t, []string{"A", "B", "C"}, handlerNames(m))
	assert.Empty(t, m.Navigate(handler).Attributes)
	b := m.Navigate(model.NewPath("subsystem", "logging", "handler", "B"))
	assert.Equal(t, map[string]interface{}{"level": "WARN"}, b.Attributes)
}

func TestExecute_Cancelled(t *testing.T) {
	exec := NewModelExecutor(nil, newRegistry(t), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := exec.Execute(ctx, &engine.Batch{Operations: []model.Operation{
		model.NewAdd(model.NewPath("system-property", "a"), nil),
	}})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = exec.Execute(context.Background(), nil)
	assert.Error(t, err)
}

func TestModelIsACopy(t *testing.T) {
	exec := NewModelExecutor(nil, newRegistry(t), zerolog.Nop())
	m := exec.Model()
	m.InsertChild(model.NewResource("system-property", "a", nil), -1)
	assert.Nil(t, exec.Model().Child("system-property", "a"))
}
