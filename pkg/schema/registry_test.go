package schema

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
)

func loadServer(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.LoadFile("testdata/server.cue"))
	return r
}

func TestRegistry_LoadFile(t *testing.T) {
	r := loadServer(t)
	assert.Equal(t, 8, r.Len())

	root, ok := r.Resolve(model.Root)
	require.True(t, ok)
	assert.False(t, root.HasAdd)
	attr, ok := root.Attribute("product-name")
	require.True(t, ok)
	assert.Equal(t, engine.AccessReadOnly, attr.Access)

	desc, ok := r.Resolve(model.NewPath("system-property", "foo"))
	require.True(t, ok)
	assert.True(t, desc.HasAdd)
	assert.True(t, desc.HasRemove)
	assert.False(t, desc.SupportsAddIndex)
	assert.Equal(t, "/system-property=*", desc.Address.String())

	// Attributes are sorted and defaulted.
	require.Len(t, desc.Attributes, 2)
	assert.Equal(t, "boot-time", desc.Attributes[0].Name)
	assert.Equal(t, engine.AccessReadOnly, desc.Attributes[0].Access)
	assert.Equal(t, "value", desc.Attributes[1].Name)
	assert.Equal(t, engine.AccessReadWrite, desc.Attributes[1].Access)
	assert.Equal(t, engine.StorageConfiguration, desc.Attributes[1].Storage)

	binding, ok := r.Resolve(model.NewPath("socket-binding-group", "std", "socket-binding", "http"))
	require.True(t, ok)
	iface, ok := binding.Attribute("interface")
	require.True(t, ok)
	assert.Equal(t, "org.wildfly.network.interface", iface.CapabilityReference)

	mbean, ok := r.Resolve(model.NewPath("core-service", "platform-mbean"))
	require.True(t, ok)
	assert.True(t, mbean.RuntimeOnly)
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := loadServer(t)

	_, ok := r.Resolve(model.NewPath("subsystem", "logging"))
	assert.False(t, ok)
	_, ok = r.Resolve(model.NewPath("system-property", "a", "child", "b"))
	assert.False(t, ok)
}

func TestRegistry_SpecificBeatsWildcard(t *testing.T) {
	r := loadServer(t)
	loader := NewExtensionLoader(r, "testdata/extensions", zerolog.Nop())
	require.NoError(t, loader.Load(context.Background(), "org.acme.logging"))

	console, ok := r.Resolve(model.NewPath("subsystem", "logging", "handler", "CONSOLE"))
	require.True(t, ok)
	assert.False(t, console.HasRemove)
	assert.Equal(t, "/subsystem=logging/handler=CONSOLE", console.Address.String())

	file, ok := r.Resolve(model.NewPath("subsystem", "logging", "handler", "FILE"))
	require.True(t, ok)
	assert.True(t, file.HasRemove)
	assert.True(t, file.SupportsAddIndex)
	assert.True(t, file.HandlesOperation("enable"))
	assert.False(t, file.HandlesOperation("restart"))
}

func TestRegistry_Backtracking(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(model.NewPath("host", "primary"), Definition{Add: true}))
	require.NoError(t, r.Register(model.NewPath("host", model.Wildcard, "server", model.Wildcard), Definition{Add: true, Remove: true}))

	// host=primary has no server child registration, so the wildcard host
	// branch must still be tried.
	desc, ok := r.Resolve(model.NewPath("host", "primary", "server", "one"))
	require.True(t, ok)
	assert.Equal(t, "/host=*/server=*", desc.Address.String())
}

func TestRegistry_CacheFlushedOnRegister(t *testing.T) {
	r := NewRegistry()
	address := model.NewPath("deployment", "app.war")

	_, ok := r.Resolve(address)
	require.False(t, ok)

	require.NoError(t, r.Register(model.NewPath("deployment", model.Wildcard), Definition{Add: true, Remove: true}))
	_, ok = r.Resolve(address)
	assert.True(t, ok, "negative resolution must not survive a registration")
}

func TestRegistry_ConcurrentResolveDuringRegister(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := NewRegistry()
		address := model.NewPath("deployment", "app.war")

		stop := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
						r.Resolve(address)
					}
				}
			}()
		}

		require.NoError(t, r.Register(model.NewPath("deployment", model.Wildcard), Definition{Add: true}))
		close(stop)
		wg.Wait()

		_, ok := r.Resolve(address)
		require.True(t, ok, "stale negative resolution cached after registration")
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(model.NewPath("path", model.Wildcard), Definition{}))
	assert.Error(t, r.Register(model.NewPath("path", model.Wildcard), Definition{}))

	// The root may be redefined.
	require.NoError(t, r.Register(model.Root, Definition{}))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Validation(t *testing.T) {
	r := NewRegistry()
	err := r.Register(model.NewPath("path", model.Wildcard), Definition{
		Attributes: map[string]AttributeSpec{"x": {Access: "sometimes", Storage: "configuration"}},
	})
	assert.Error(t, err)

	err = r.LoadString(`resources: { "path=*": { attributes: { x: { access: "never" } } } }`, "bad.cue")
	assert.Error(t, err)

	err = r.LoadString(`resources: { "path": {} }`, "bad-address.cue")
	assert.Error(t, err)

	err = r.LoadString(`other: {}`, "empty.cue")
	assert.Error(t, err)
}

func TestRegistry_OrderedChildTypes(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.LoadFile("testdata/extensions/org.acme.logging.cue"))

	assert.Equal(t, []string{"handler"}, r.OrderedChildTypes(model.NewPath("subsystem", "logging")))
	assert.Nil(t, r.OrderedChildTypes(model.NewPath("subsystem", "logging", "logger", "x")))
	assert.Nil(t, r.OrderedChildTypes(model.NewPath("unknown", "x")))
}

func TestRegistry_Descriptions(t *testing.T) {
	r := loadServer(t)
	descs := r.Descriptions()
	require.Len(t, descs, 8)
	assert.Equal(t, "/", descs[0].Address.String())
	for i := 1; i < len(descs); i++ {
		assert.Less(t, descs[i-1].Address.String(), descs[i].Address.String())
	}
}

func TestExtensionLoader(t *testing.T) {
	r := NewRegistry()
	loader := NewExtensionLoader(r, "testdata/extensions", zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, loader.Load(ctx, "org.acme.logging"))
	require.NoError(t, loader.Load(ctx, "org.acme.logging"), "second load is a no-op")
	assert.Equal(t, []string{"org.acme.logging"}, loader.Loaded())

	assert.Error(t, loader.Load(ctx, "org.acme.missing"))
	assert.Error(t, loader.Load(ctx, "../server"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, loader.Load(cancelled, "org.acme.other"), context.Canceled)
}

func TestParseAddress(t *testing.T) {
	for in, want := range map[string]string{
		"":                       "/",
		"/":                      "/",
		"subsystem=logging":      "/subsystem=logging",
		"/subsystem=logging/h=*": "/subsystem=logging/h=*",
	} {
		got, err := ParseAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got.String(), in)
	}
}
