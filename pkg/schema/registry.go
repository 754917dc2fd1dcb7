package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
)

// Registry holds resource registrations keyed by address template and
// resolves concrete addresses against them. It implements
// engine.SchemaRegistry and engine.OrderedChildTypesLookup.
type Registry struct {
	mu         sync.RWMutex
	loadMu     sync.Mutex
	ctx        *cue.Context
	definition cue.Value
	validate   *validator.Validate
	root       *registration
	count      int
	resolved   *cache.Cache
	logger     zerolog.Logger
}

type registration struct {
	desc     *engine.ResourceDescription
	children map[model.PathElement]*registration
}

type resolution struct {
	desc *engine.ResourceDescription
	ok   bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithCacheTTL sets how long resolutions are cached. Zero disables expiry.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl <= 0 {
			r.resolved = cache.New(cache.NoExpiration, 0)
			return
		}
		r.resolved = cache.New(ttl, 2*ttl)
	}
}

// NewRegistry creates an empty registry. The root resource is registered
// with no attributes and no handlers.
func NewRegistry(opts ...Option) *Registry {
	ctx := cuecontext.New()
	r := &Registry{
		ctx:        ctx,
		definition: ctx.CompileString(definitionSchema).LookupPath(cue.ParsePath("#Definition")),
		validate:   validator.New(),
		root:       &registration{desc: &engine.ResourceDescription{Address: model.Root}},
		resolved:   cache.New(cache.NoExpiration, 0),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a registration. Registering the same template twice is an
// error, except for the root which may be replaced once.
func (r *Registry) Register(address model.Path, def Definition) error {
	if err := r.validate.Struct(def); err != nil {
		return fmt.Errorf("definition %s validation failed: %w", address, err)
	}
	desc := def.Description(address)

	r.mu.Lock()
	defer r.mu.Unlock()

	node := r.root
	for _, e := range address {
		if node.children == nil {
			node.children = make(map[model.PathElement]*registration)
		}
		child, ok := node.children[e]
		if !ok {
			child = &registration{}
			node.children[e] = child
		}
		node = child
	}
	if node.desc != nil && !address.IsRoot() {
		return fmt.Errorf("resource %s is already registered", address)
	}
	if node.desc == nil {
		r.count++
	}
	node.desc = desc
	r.resolved.Flush()

	r.logger.Debug().
		Str("address", address.String()).
		Int("attributes", len(desc.Attributes)).
		Msg("Registered resource")
	return nil
}

// Resolve returns the registration matching a concrete address. At every
// level a registration for the exact value wins over the wildcard one.
func (r *Registry) Resolve(address model.Path) (*engine.ResourceDescription, bool) {
	key := address.String()
	if v, ok := r.resolved.Get(key); ok {
		res := v.(resolution)
		return res.desc, res.ok
	}

	// The cache write stays under the read lock so it cannot land after a
	// Register has flushed the cache.
	r.mu.RLock()
	defer r.mu.RUnlock()
	desc := lookup(r.root, address)
	r.resolved.SetDefault(key, resolution{desc: desc, ok: desc != nil})
	return desc, desc != nil
}

func lookup(node *registration, address model.Path) *engine.ResourceDescription {
	if len(address) == 0 {
		return node.desc
	}
	e := address[0]
	if child, ok := node.children[e]; ok {
		if desc := lookup(child, address[1:]); desc != nil {
			return desc
		}
	}
	if e.Value != model.Wildcard {
		if child, ok := node.children[model.PathElement{Key: e.Key, Value: model.Wildcard}]; ok {
			return lookup(child, address[1:])
		}
	}
	return nil
}

// OrderedChildTypes returns the ordered child types registered for address.
func (r *Registry) OrderedChildTypes(address model.Path) []string {
	desc, ok := r.Resolve(address)
	if !ok || len(desc.OrderedChildTypes) == 0 {
		return nil
	}
	out := make([]string, len(desc.OrderedChildTypes))
	copy(out, desc.OrderedChildTypes)
	return out
}

// Len returns the number of registrations, including the root.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count + 1
}

// Descriptions returns every registration sorted by address.
func (r *Registry) Descriptions() []*engine.ResourceDescription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*engine.ResourceDescription
	var walk func(n *registration)
	walk = func(n *registration) {
		if n.desc != nil {
			out = append(out, n.desc)
		}
		for _, child := range n.children {
			walk(child)
		}
	}
	walk(r.root)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out
}

// LoadString compiles a CUE schema document and registers every entry of
// its "resources" struct. filename is used in error positions.
func (r *Registry) LoadString(src, filename string) error {
	// cue.Context is not safe for concurrent use.
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	val := r.ctx.CompileString(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return cueError(filename, err)
	}

	resources := val.LookupPath(cue.ParsePath("resources"))
	if !resources.Exists() {
		return fmt.Errorf("%s: no resources defined", filename)
	}

	iter, err := resources.Fields()
	if err != nil {
		return cueError(filename, err)
	}
	for iter.Next() {
		template := iter.Selector().Unquoted()
		address, err := ParseAddress(template)
		if err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}

		entry := r.definition.Unify(iter.Value())
		if err := entry.Validate(); err != nil {
			return cueError(filename, err)
		}
		var def Definition
		if err := entry.Decode(&def); err != nil {
			return fmt.Errorf("%s: failed to decode %s: %w", filename, template, err)
		}
		if err := r.Register(address, def); err != nil {
			return fmt.Errorf("%s: %w", filename, err)
		}
	}
	return nil
}

// LoadFile registers the definitions of one CUE file.
func (r *Registry) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", path, err)
	}
	return r.LoadString(string(content), path)
}

// LoadDir registers every .cue file of dir in lexical order.
func (r *Registry) LoadDir(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return fmt.Errorf("failed to list schemas in %s: %w", dir, err)
	}
	sort.Strings(files)
	for _, f := range files {
		if err := r.LoadFile(f); err != nil {
			return err
		}
	}
	r.logger.Info().Str("dir", dir).Int("files", len(files)).Msg("Loaded schema directory")
	return nil
}

func cueError(filename string, err error) error {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		msg := cueerrors.Details(e, nil)
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			msg = fmt.Sprintf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), strings.TrimSpace(msg))
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
