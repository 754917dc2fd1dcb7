package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/modelsync/pkg/engine"
	"github.com/openfroyo/modelsync/pkg/model"
)

// Failure descriptions reported for operations that cannot be dispatched.
const (
	FailureNoSuchResourceType = "no such resource type"
	FailureNoHandler          = "no handler for operation"
)

// ModelExecutor applies batches to an in-memory model. It implements
// engine.Executor.
//
// Batch entries are pushed onto a stack and popped last-in first-out. A
// composite entry is atomic: when one of its steps fails the model is
// restored to its state before the composite. Execution stops at the first
// failure; entries applied before it stay applied.
type ModelExecutor struct {
	// mu protects root
	mu       sync.RWMutex
	root     *model.Resource
	registry engine.SchemaRegistry
	logger   zerolog.Logger
}

// NewModelExecutor creates an executor owning root. A nil root starts from
// an empty model.
func NewModelExecutor(root *model.Resource, registry engine.SchemaRegistry, logger zerolog.Logger) *ModelExecutor {
	if root == nil {
		root = &model.Resource{}
	}
	return &ModelExecutor{
		root:     root,
		registry: registry,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// Model returns a copy of the current model.
func (e *ModelExecutor) Model() *model.Resource {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.root.Clone()
}

// Execute applies batch.
func (e *ModelExecutor) Execute(ctx context.Context, batch *engine.Batch) (*engine.ExecutionReport, error) {
	if batch == nil {
		return nil, engine.NewPermanentError("batch is nil", nil).WithCode(engine.ErrCodeValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	report := &engine.ExecutionReport{}
	stack := newStack(batch.Operations)
	for !stack.empty() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		op := stack.pop()

		if op.Name == model.OpComposite {
			if !e.runComposite(op, report) {
				return report, nil
			}
			continue
		}
		if err := e.apply(op); err != nil {
			e.recordFailure(report, op, err)
			return report, nil
		}
		report.Applied = append(report.Applied, op)
	}

	if len(batch.RootAttributes) > 0 {
		if e.root.Attributes == nil {
			e.root.Attributes = make(map[string]interface{})
		}
		for _, name := range model.SortedKeys(batch.RootAttributes) {
			e.root.Attributes[name] = batch.RootAttributes[name]
		}
	}

	e.logger.Debug().Int("applied", len(report.Applied)).Msg("Batch applied")
	return report, nil
}

func (e *ModelExecutor) runComposite(op model.Operation, report *engine.ExecutionReport) bool {
	snapshot := e.root.Clone()
	applied := len(report.Applied)
	for _, step := range op.Steps {
		var err error
		if step.Name == model.OpComposite {
			err = fmt.Errorf("nested composite operations are not supported")
		} else {
			err = e.apply(step)
		}
		if err != nil {
			e.root = snapshot
			report.Applied = report.Applied[:applied]
			report.RolledBack = true
			e.recordFailure(report, step, err)
			return false
		}
		report.Applied = append(report.Applied, step)
	}
	return true
}

func (e *ModelExecutor) recordFailure(report *engine.ExecutionReport, op model.Operation, err error) {
	failed := op.Clone()
	report.Failed = &failed
	report.FailureDescription = err.Error()
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		report.FailureDescription = ee.Message
		report.FailureCode = ee.Code
	}
	e.logger.Warn().
		Str("operation", op.String()).
		Bool("rolled_back", report.RolledBack).
		Err(err).
		Msg("Operation failed")
}

// apply dispatches one operation to its handler. Handlers validate before
// they modify the model.
func (e *ModelExecutor) apply(op model.Operation) error {
	desc, ok := e.registry.Resolve(op.Address)
	if !ok {
		return engine.NewPermanentError(fmt.Sprintf("%s %s", FailureNoSuchResourceType, op.Address), nil).
			WithCode(engine.ErrCodeNoSuchResource).
			WithOperation(op.Name)
	}
	if !desc.HandlesOperation(op.Name) {
		return engine.NewPermanentError(fmt.Sprintf("%s %s at %s", FailureNoHandler, op.Name, op.Address), nil).
			WithCode(engine.ErrCodeNoHandler).
			WithOperation(op.Name)
	}

	switch op.Name {
	case model.OpAdd:
		return e.add(op, desc)
	case model.OpRemove:
		return e.remove(op)
	case model.OpWriteAttribute:
		return e.writeAttribute(op, desc)
	case model.OpUndefineAttribute:
		return e.undefineAttribute(op, desc)
	default:
		if e.root.Navigate(op.Address) == nil {
			return fmt.Errorf("resource %s does not exist", op.Address)
		}
		e.logger.Debug().Str("operation", op.String()).Msg("Invoked custom operation")
		return nil
	}
}

func (e *ModelExecutor) add(op model.Operation, desc *engine.ResourceDescription) error {
	last, ok := op.Address.Last()
	if !ok {
		return fmt.Errorf("cannot add the root resource")
	}
	parent, err := e.ensure(op.Address.Parent())
	if err != nil {
		return err
	}
	if parent.Child(last.Key, last.Value) != nil {
		return fmt.Errorf("duplicate resource %s", op.Address)
	}

	index := -1
	if i, ok := op.AddIndex(); ok {
		if !desc.SupportsAddIndex {
			return fmt.Errorf("%s does not accept %s", op.Address, model.ParamAddIndex)
		}
		index = i
	}

	attributes := make(map[string]interface{}, len(op.Params))
	for name, value := range op.Params {
		if name == model.ParamAddIndex {
			continue
		}
		if _, ok := desc.Attribute(name); !ok {
			return fmt.Errorf("unknown attribute %s for %s", name, op.Address)
		}
		if value != nil {
			attributes[name] = value
		}
	}
	if len(attributes) == 0 {
		attributes = nil
	}

	parent.InsertChild(&model.Resource{Type: last.Key, Name: last.Value, Attributes: attributes}, index)
	return nil
}

func (e *ModelExecutor) remove(op model.Operation) error {
	last, ok := op.Address.Last()
	if !ok {
		return fmt.Errorf("cannot remove the root resource")
	}
	parent := e.root.Navigate(op.Address.Parent())
	if parent == nil || !parent.RemoveChild(last.Key, last.Value) {
		return fmt.Errorf("resource %s does not exist", op.Address)
	}
	return nil
}

func (e *ModelExecutor) writeAttribute(op model.Operation, desc *engine.ResourceDescription) error {
	r, attr, err := e.attributeTarget(op, desc)
	if err != nil {
		return err
	}
	value := op.Value()
	if value == nil {
		delete(r.Attributes, attr.Name)
		return nil
	}
	if r.Attributes == nil {
		r.Attributes = make(map[string]interface{})
	}
	r.Attributes[attr.Name] = value
	return nil
}

func (e *ModelExecutor) undefineAttribute(op model.Operation, desc *engine.ResourceDescription) error {
	r, attr, err := e.attributeTarget(op, desc)
	if err != nil {
		return err
	}
	delete(r.Attributes, attr.Name)
	return nil
}

func (e *ModelExecutor) attributeTarget(op model.Operation, desc *engine.ResourceDescription) (*model.Resource, engine.AttributeDefinition, error) {
	name, ok := op.AttributeName()
	if !ok {
		return nil, engine.AttributeDefinition{}, fmt.Errorf("%s requires a %s parameter", op.Name, model.ParamName)
	}
	attr, ok := desc.Attribute(name)
	if !ok {
		return nil, engine.AttributeDefinition{}, fmt.Errorf("unknown attribute %s for %s", name, op.Address)
	}
	if (op.Name == model.OpWriteAttribute && attr.Access != engine.AccessReadWrite) ||
		(op.Name == model.OpUndefineAttribute && attr.Access == engine.AccessMetric) {
		return nil, engine.AttributeDefinition{}, fmt.Errorf("attribute %s of %s is %s", attr.Name, op.Address, attr.Access)
	}
	r, err := e.ensure(op.Address)
	if err != nil {
		return nil, engine.AttributeDefinition{}, err
	}
	return r, attr, nil
}

// ensure returns the resource at address. Missing resources whose type has
// no add handler exist implicitly and are created on first use.
func (e *ModelExecutor) ensure(address model.Path) (*model.Resource, error) {
	cur := e.root
	for i, el := range address {
		next := cur.Child(el.Key, el.Value)
		if next == nil {
			sub := address.Subpath(0, i+1)
			desc, ok := e.registry.Resolve(sub)
			if !ok || desc.HasAdd {
				return nil, fmt.Errorf("resource %s does not exist", sub)
			}
			next = &model.Resource{Type: el.Key, Name: el.Value}
			cur.InsertChild(next, -1)
		}
		cur = next
	}
	return cur, nil
}
