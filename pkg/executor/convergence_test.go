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
)

const currentModel = `
attributes: {name: server-one}
children:
  - {type: extension, name: org.acme.logging, attributes: {module: org.acme.logging}}
  - {type: system-property, name: a, attributes: {value: "1", boot-time: true}}
  - {type: system-property, name: b, attributes: {value: "2"}}
  - {type: system-property, name: frozen, attributes: {value: "x", boot-time: false}}
  - type: subsystem
    name: logging
    children:
      - {type: handler, name: CONSOLE, attributes: {level: DEBUG}}
      - {type: handler, name: FILE, attributes: {level: DEBUG, formatter: text}}
      - {type: logger, name: com.acme, attributes: {level: INFO}}
      - {type: logger, name: org.old, attributes: {level: WARN}}
`

const remoteModel = `
attributes: {name: server-two, product-name: ModelSync, release-version: "2.0"}
children:
  - {type: extension, name: org.acme.logging, attributes: {module: org.acme.logging}}
  - {type: system-property, name: a, attributes: {value: "2", boot-time: true}}
  - {type: system-property, name: c, attributes: {value: "3"}}
  - {type: system-property, name: frozen, attributes: {value: "x", boot-time: true}}
  - type: subsystem
    name: logging
    attributes: {add-logging-api-dependencies: false}
    children:
      - {type: handler, name: CONSOLE, attributes: {level: INFO}}
      - {type: handler, name: AUDIT, attributes: {level: WARN}}
      - {type: handler, name: FILE, attributes: {level: DEBUG, formatter: json}}
      - {type: logger, name: com.acme, attributes: {level: INFO}}
`

// canonical indexes a description by operation address and kind.
func canonical(desc *engine.ModelDescription) map[string]model.Operation {
	out := make(map[string]model.Operation, len(desc.Operations))
	for _, op := range desc.Operations {
		key := op.Address.String() + ":" + op.Name
		if name, ok := op.AttributeName(); ok {
			key += ":" + name
		}
		out[key] = op
	}
	return out
}

func assertConverged(t *testing.T, got, want *model.Resource, registry engine.SchemaRegistry) {
	t.Helper()
	gotDesc := config.Describe(got, registry, nil, zerolog.Nop())
	wantDesc := config.Describe(want, registry, nil, zerolog.Nop())

	gotOps := canonical(gotDesc)
	wantOps := canonical(wantDesc)
	assert.Equal(t, len(wantOps), len(gotOps))
	for key, op := range wantOps {
		g, ok := gotOps[key]
		if assert.True(t, ok, "missing %s", key) {
			assert.True(t, op.Equal(g), "%v != %v", op, g)
		}
	}
	assert.Equal(t, handlerNames(want), handlerNames(got))
}

// registeredExtensions treats every extension as already registered.
type registeredExtensions struct {
	loaded []string
}

func (r *registeredExtensions) Load(_ context.Context, module string) error {
	r.loaded = append(r.loaded, module)
	return nil
}

func newPass(t *testing.T, current, remote *model.Resource) (*engine.Synchronizer, *ModelExecutor) {
	t.Helper()
	registry := newRegistry(t)
	exec := NewModelExecutor(current, registry, zerolog.Nop())

	s, err := engine.NewSynchronizer(engine.SynchronizerConfig{
		Registry:   registry,
		Local:      config.NewModelSource(exec.Model, registry, nil, zerolog.Nop()),
		Remote:     config.NewModelSource(func() *model.Resource { return remote }, registry, nil, zerolog.Nop()),
		Executor:   exec,
		Extensions: &registeredExtensions{},
	})
	require.NoError(t, err)
	return s, exec
}

func TestConvergence(t *testing.T) {
	current := parseModel(t, currentModel)
	remote := parseModel(t, remoteModel)
	s, exec := newPass(t, current, remote)

	result, err := s.Sync(context.Background(), engine.PassModeSync)
	require.NoError(t, err)
	require.NotNil(t, result.Report)
	require.True(t, result.Report.Succeeded(), result.Report.FailureDescription)

	got := exec.Model()
	assertConverged(t, got, remote, newRegistry(t))
	assert.Equal(t, []string{"CONSOLE", "AUDIT", "FILE"}, handlerNames(got))
	assert.Equal(t, "server-two", got.Attributes["name"])
	assert.Equal(t, "ModelSync", got.Attributes["product-name"])
	assert.Equal(t, "2.0", got.Attributes["release-version"])

	// A second pass finds nothing to do.
	again, err := s.Sync(context.Background(), engine.PassModeSync)
	require.NoError(t, err)
	assert.Nil(t, again.Report)
	for _, op := range again.Batch.Operations {
		t.Errorf("unexpected operation after convergence: %v", op)
	}
}

func TestConvergence_Reorder(t *testing.T) {
	current := parseModel(t, `
children:
  - type: subsystem
    name: logging
    children:
      - {type: handler, name: A}
      - {type: handler, name: B}
      - {type: handler, name: C}
`)
	remote := parseModel(t, `
children:
  - type: subsystem
    name: logging
    children:
      - {type: handler, name: C, attributes: {level: TRACE}}
      - {type: handler, name: A}
      - {type: handler, name: D}
`)
	s, exec := newPass(t, current, remote)

	result, err := s.Sync(context.Background(), engine.PassModeSync)
	require.NoError(t, err)
	require.True(t, result.Report.Succeeded(), result.Report.FailureDescription)

	got := exec.Model()
	assert.Equal(t, []string{"C", "A", "D"}, handlerNames(got))
	assertConverged(t, got, remote, newRegistry(t))
}

func TestConvergence_FromEmpty(t *testing.T) {
	remote := parseModel(t, remoteModel)
	s, exec := newPass(t, nil, remote)

	result, err := s.Sync(context.Background(), engine.PassModeBoot)
	require.NoError(t, err)
	assert.Equal(t, []string{"org.acme.logging"}, result.MissingExtensions)
	require.True(t, result.Report.Succeeded(), result.Report.FailureDescription)
	assertConverged(t, exec.Model(), remote, newRegistry(t))
}

func TestConvergence_Diff(t *testing.T) {
	current := parseModel(t, currentModel)
	remote := parseModel(t, remoteModel)
	s, exec := newPass(t, current, remote)

	result, err := s.Diff(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result.Diff)
	assert.NotEmpty(t, result.Diff.SyncOps)
	assert.Empty(t, result.Diff.ExtensionOps)

	// A dry run leaves the model untouched.
	assertConverged(t, exec.Model(), current, newRegistry(t))
}
