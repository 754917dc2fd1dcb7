package config

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
)

// FileSource reads a model description from a document on disk. Model
// documents are described against the registry; operation documents are
// used as they are. It implements engine.LocalSource and engine.RemoteSource.
type FileSource struct {
	path     string
	loader   *Loader
	registry engine.SchemaRegistry
	filter   *engine.PathFilter
	logger   zerolog.Logger
}

// NewFileSource creates a source for the document at path.
func NewFileSource(path string, loader *Loader, registry engine.SchemaRegistry, filter *engine.PathFilter, logger zerolog.Logger) *FileSource {
	return &FileSource{
		path:     path,
		loader:   loader,
		registry: registry,
		filter:   filter,
		logger:   logger.With().Str("source", path).Logger(),
	}
}

// ReadOperations loads the document and returns its description.
func (s *FileSource) ReadOperations(ctx context.Context) (*engine.ModelDescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := s.loader.LoadFile(s.path)
	if err != nil {
		return nil, err
	}
	if doc.Operations != nil {
		desc, err := doc.Operations.Description()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		return desc, nil
	}
	return Describe(doc.Model, s.registry, s.filter, s.logger), nil
}

// ModelSource describes a live in-memory model. It implements
// engine.LocalSource.
type ModelSource struct {
	snapshot func() *model.Resource
	registry engine.SchemaRegistry
	filter   *engine.PathFilter
	logger   zerolog.Logger
}

// NewModelSource creates a source that describes the model returned by
// snapshot on every read.
func NewModelSource(snapshot func() *model.Resource, registry engine.SchemaRegistry, filter *engine.PathFilter, logger zerolog.Logger) *ModelSource {
	return &ModelSource{snapshot: snapshot, registry: registry, filter: filter, logger: logger}
}

// ReadOperations describes the current model.
func (s *ModelSource) ReadOperations(ctx context.Context) (*engine.ModelDescription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	root := s.snapshot()
	if root == nil {
		root = &model.Resource{}
	}
	return Describe(root, s.registry, s.filter, s.logger), nil
}

// Validate checks a model against the registry. Unregistered resources are
// errors; attributes the registry does not know, or that are not
// configuration, are warnings.
func Validate(source string, root *model.Resource, registry engine.SchemaRegistry) []ValidationError {
	var problems []ValidationError
	var walk func(address model.Path, r *model.Resource)
	walk = func(address model.Path, r *model.Resource) {
		rd, ok := registry.Resolve(address)
		if !ok {
			problems = append(problems, ValidationError{
				File:     source,
				Address:  address.String(),
				Message:  "no such resource type",
				Severity: "error",
			})
			return
		}
		for _, name := range model.SortedKeys(r.Attributes) {
			attr, ok := rd.Attribute(name)
			switch {
			case !ok:
				problems = append(problems, ValidationError{
					File:     source,
					Address:  address.String(),
					Message:  fmt.Sprintf("unknown attribute %s", name),
					Severity: "warning",
				})
			case !attr.IsConfiguration() || attr.Access == engine.AccessMetric:
				problems = append(problems, ValidationError{
					File:     source,
					Address:  address.String(),
					Message:  fmt.Sprintf("attribute %s is not configuration and will be ignored", name),
					Severity: "warning",
				})
			}
		}
		for _, c := range r.Children {
			walk(address.Child(c.Type, c.Name), c)
		}
	}
	walk(model.Root, root)
	return problems
}
