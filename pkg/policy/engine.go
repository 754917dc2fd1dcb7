package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
)

const reasonsQuery = "data." + Package + ".reasons"

// Engine evaluates exclusion policies. All enabled modules are compiled
// into one prepared query; decisions are cached per address until the
// policy set changes.
type Engine struct {
	mu        sync.RWMutex
	policies  map[string]*Policy
	query     *rego.PreparedEvalQuery
	data      map[string]interface{}
	decisions map[string]Decision
	logger    zerolog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithServerDefaults enables the built-in server policy.
func WithServerDefaults() Option {
	return func(e *Engine) {
		if p, ok := e.policies[ServerPolicyName]; ok {
			p.Enabled = true
		}
	}
}

// WithReadOnlyPaths lists the path resources the server treats as
// read-only. The server policy excludes them.
func WithReadOnlyPaths(names ...string) Option {
	return func(e *Engine) {
		paths := make([]interface{}, len(names))
		for i, n := range names {
			paths[i] = n
		}
		e.data["modelsync"] = map[string]interface{}{"read_only_paths": paths}
	}
}

// NewEngine creates a policy engine holding the built-in policies.
func NewEngine(ctx context.Context, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*Policy),
		data:     make(map[string]interface{}),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, p := range BuiltinPolicies() {
		p := p
		e.policies[p.Name] = &p
	}
	for _, opt := range opts {
		opt(e)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.compile(ctx); err != nil {
		return nil, fmt.Errorf("failed to compile built-in policies: %w", err)
	}
	return e, nil
}

// Evaluate decides whether operations against address are excluded.
func (e *Engine) Evaluate(ctx context.Context, address model.Path) (Decision, error) {
	key := address.String()

	e.mu.RLock()
	if d, ok := e.decisions[key]; ok {
		e.mu.RUnlock()
		return d, nil
	}
	query := e.query
	e.mu.RUnlock()

	decision := Decision{Address: key}
	if query == nil {
		return decision, nil
	}

	input := Input{Address: key, Elements: make([]Element, len(address))}
	for i, el := range address {
		input.Elements[i] = Element{Key: el.Key, Value: el.Value}
	}

	rs, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return decision, fmt.Errorf("failed to evaluate exclusion policies for %s: %w", key, err)
	}
	for _, result := range rs {
		if len(result.Expressions) == 0 {
			continue
		}
		if set, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, r := range set {
				decision.Reasons = append(decision.Reasons, fmt.Sprint(r))
			}
		}
	}
	sort.Strings(decision.Reasons)
	decision.Excluded = len(decision.Reasons) > 0

	e.mu.Lock()
	if e.query == query {
		e.decisions[key] = decision
	}
	e.mu.Unlock()
	return decision, nil
}

// Predicate adapts the engine to engine.ExcludePredicate. An evaluation
// error is logged and the address is kept.
func (e *Engine) Predicate(ctx context.Context) engine.ExcludePredicate {
	return func(address model.Path) bool {
		d, err := e.Evaluate(ctx, address)
		if err != nil {
			e.logger.Error().Err(err).Str("address", address.String()).Msg("Exclusion policy failed")
			return false
		}
		if d.Excluded {
			e.logger.Debug().Str("address", d.Address).Strs("reasons", d.Reasons).Msg("Address excluded")
		}
		return d.Excluded
	}
}

// SetPolicies replaces every non-builtin policy and recompiles. On error the
// previous policy set stays active.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.policies
	next := make(map[string]*Policy, len(policies))
	for name, p := range previous {
		if p.Builtin {
			next[name] = p
		}
	}
	for i := range policies {
		p := policies[i]
		if existing, ok := next[p.Name]; ok && existing.Builtin {
			return fmt.Errorf("policy %s shadows a built-in policy", p.Name)
		}
		next[p.Name] = &p
	}

	e.policies = next
	if err := e.compile(ctx); err != nil {
		e.policies = previous
		return err
	}

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded successfully")
	return nil
}

// LoadPolicies loads policy files and directories and replaces the current
// set with them.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.SetPolicies(ctx, policies)
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	c := *p
	return &c, nil
}

// ListPolicies returns all policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, p := range e.policies {
		policies = append(policies, *p)
	}
	sort.Slice(policies, func(i, j int) bool { return policies[i].Name < policies[j].Name })
	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(ctx context.Context, name string) error {
	return e.setEnabled(ctx, name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(ctx context.Context, name string) error {
	return e.setEnabled(ctx, name, false)
}

func (e *Engine) setEnabled(ctx context.Context, name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	if p.Enabled == enabled {
		return nil
	}
	p.Enabled = enabled
	if err := e.compile(ctx); err != nil {
		p.Enabled = !enabled
		return err
	}

	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// compile must be called with mu held.
func (e *Engine) compile(ctx context.Context) error {
	names := make([]string, 0, len(e.policies))
	for name, p := range e.policies {
		if p.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	e.decisions = make(map[string]Decision)
	if len(names) == 0 {
		e.query = nil
		return nil
	}

	opts := []func(*rego.Rego){
		rego.Query(reasonsQuery),
		rego.Store(inmem.NewFromObject(e.data)),
	}
	for _, name := range names {
		p := e.policies[name]
		module, err := ast.ParseModule(name, p.Rego)
		if err != nil {
			return fmt.Errorf("failed to parse policy %s: %w", name, err)
		}
		if got := module.Package.Path.String(); got != "data."+Package {
			return fmt.Errorf("policy %s declares %s, want package %s", name, got, Package)
		}
		opts = append(opts, rego.ParsedModule(module))
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare policies: %w", err)
	}
	e.query = &query

	e.logger.Debug().Strs("policies", names).Msg("Policies compiled")
	return nil
}
