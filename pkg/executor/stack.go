package executor

import "github.com/openfroyo/modelsync/pkg/model"

// stack holds batch entries; the last pushed entry runs first.
type stack struct {
	items []model.Operation
}

func newStack(ops []model.Operation) *stack {
	s := &stack{items: make([]model.Operation, 0, len(ops))}
	for _, op := range ops {
		s.push(op)
	}
	return s
}

func (s *stack) push(op model.Operation) {
	s.items = append(s.items, op)
}

func (s *stack) pop() model.Operation {
	op := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return op
}

func (s *stack) empty() bool {
	return len(s.items) == 0
}
