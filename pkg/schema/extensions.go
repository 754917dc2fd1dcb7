package schema

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// ExtensionLoader registers the resource types of extension modules. Each
// module is described by <dir>/<module>.cue. It implements
// engine.ExtensionLoader.
type ExtensionLoader struct {
	registry *Registry
	dir      string
	logger   zerolog.Logger

	mu     sync.Mutex
	loaded map[string]bool
}

// NewExtensionLoader creates a loader reading module schemas from dir.
func NewExtensionLoader(registry *Registry, dir string, logger zerolog.Logger) *ExtensionLoader {
	return &ExtensionLoader{
		registry: registry,
		dir:      dir,
		logger:   logger,
		loaded:   make(map[string]bool),
	}
}

// Load registers the resource types of module. Loading a module twice is a
// no-op.
func (l *ExtensionLoader) Load(ctx context.Context, module string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if module == "" || strings.ContainsAny(module, `/\`) || module == "." || module == ".." {
		return fmt.Errorf("invalid extension module name %q", module)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loaded[module] {
		return nil
	}

	path := filepath.Join(l.dir, module+".cue")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("extension module %s not found in %s", module, l.dir)
		}
		return fmt.Errorf("failed to stat extension module %s: %w", module, err)
	}
	if err := l.registry.LoadFile(path); err != nil {
		return fmt.Errorf("failed to load extension module %s: %w", module, err)
	}
	l.loaded[module] = true

	l.logger.Info().Str("module", module).Msg("Loaded extension module")
	return nil
}

// Loaded returns the modules loaded so far, sorted.
func (l *ExtensionLoader) Loaded() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.loaded))
	for m := range l.loaded {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
