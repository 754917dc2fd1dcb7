package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/format"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/modelsync/pkg/model"
)

// Loader reads model and operation documents in CUE, YAML or JSON.
type Loader struct {
	// mu guards ctx; cue.Context is not safe for concurrent use.
	mu       sync.Mutex
	ctx      *cue.Context
	validate *validator.Validate
}

// NewLoader creates a document loader.
func NewLoader() *Loader {
	return &Loader{
		ctx:      cuecontext.New(),
		validate: validator.New(),
	}
}

// FormatOf derives the document format from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported document format %q", filepath.Ext(path))
	}
}

// LoadFile reads and parses the document at path.
func (l *Loader) LoadFile(path string) (*Document, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	return l.Parse(data, f, path)
}

// Parse decodes a document. A document with a top-level "operations" field
// is an operation document; anything else is a model rooted at the top level.
func (l *Loader) Parse(data []byte, f Format, source string) (*Document, error) {
	raw, err := l.toJSON(data, f, source)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%s: document must be an object: %w", source, err)
	}

	doc := &Document{Source: source, Format: f}
	if _, ok := fields["operations"]; ok {
		var ops OperationDocument
		if err := json.Unmarshal(raw, &ops); err != nil {
			return nil, fmt.Errorf("%s: failed to decode operations: %w", source, err)
		}
		doc.Operations = &ops
		return doc, nil
	}

	var root model.Resource
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("%s: failed to decode model: %w", source, err)
	}
	if root.Type != "" || root.Name != "" {
		return nil, fmt.Errorf("%s: the root resource has no type or name", source)
	}
	if err := l.checkResource(&root, model.Root); err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	doc.Model = &root
	return doc, nil
}

// checkResource verifies that every child carries a path element and that
// no sibling is declared twice.
func (l *Loader) checkResource(r *model.Resource, address model.Path) error {
	seen := make(map[model.PathElement]bool, len(r.Children))
	for _, c := range r.Children {
		if err := l.validate.Var(c.Type, "required"); err != nil {
			return fmt.Errorf("child of %s has no type", address)
		}
		if err := l.validate.Var(c.Name, "required"); err != nil {
			return fmt.Errorf("child %s of %s has no name", c.Type, address)
		}
		childAddress := address.Child(c.Type, c.Name)
		if seen[c.Element()] {
			return fmt.Errorf("duplicate resource %s", childAddress)
		}
		seen[c.Element()] = true
		if err := l.checkResource(c, childAddress); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) toJSON(data []byte, f Format, source string) ([]byte, error) {
	switch f {
	case FormatJSON:
		return data, nil

	case FormatYAML:
		var v interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%s: failed to parse YAML: %w", source, err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%s: unsupported YAML content: %w", source, err)
		}
		return out, nil

	case FormatCUE:
		l.mu.Lock()
		defer l.mu.Unlock()
		val := l.ctx.CompileBytes(data, cue.Filename(source))
		if err := val.Validate(cue.Concrete(true)); err != nil {
			return nil, convertCUEErrors(source, err)
		}
		out, err := val.MarshalJSON()
		if err != nil {
			return nil, convertCUEErrors(source, err)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported document format %q", f)
	}
}

// WriteModel writes a model document in the format implied by path.
func (l *Loader) WriteModel(path string, root *model.Resource) error {
	f, err := FormatOf(path)
	if err != nil {
		return err
	}

	var out []byte
	switch f {
	case FormatJSON:
		out, err = json.MarshalIndent(root, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err = enc.Encode(root); err == nil {
			err = enc.Close()
		}
		out = buf.Bytes()
	case FormatCUE:
		l.mu.Lock()
		val := l.ctx.Encode(root)
		l.mu.Unlock()
		if err = val.Err(); err == nil {
			out, err = format.Node(val.Syntax(cue.Final(), cue.Concrete(true)))
		}
	}
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write model %s: %w", path, err)
	}
	return nil
}

// convertCUEErrors flattens a CUE error list, keeping the first position
// of each error.
func convertCUEErrors(source string, err error) error {
	var msgs []string
	for _, e := range cueerrors.Errors(err) {
		msg := strings.TrimSpace(cueerrors.Details(e, nil))
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			msg = fmt.Sprintf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), msg)
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("%s: %w", source, err)
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
