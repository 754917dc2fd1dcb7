package model

import (
	"fmt"
	"reflect"
	"sort"
)

// Operation names understood by the reconciliation engine. Any other name is
// carried through verbatim.
const (
	OpAdd               = "add"
	OpRemove            = "remove"
	OpWriteAttribute    = "write-attribute"
	OpUndefineAttribute = "undefine-attribute"
	OpComposite         = "composite"
)

// Well-known parameter and header names.
const (
	// ParamName holds the attribute name of write/undefine operations.
	ParamName = "name"

	// ParamValue holds the new value of a write-attribute operation.
	ParamValue = "value"

	// ParamAddIndex positions an add within an ordered child type.
	ParamAddIndex = "add-index"

	// HeaderRemovedForReadd marks a remove issued only so the resource can be
	// re-added in the same batch.
	HeaderRemovedForReadd = "sync-removed-for-readd"
)

// Operation is a single management operation against an address. Operations
// are plain data: the engine never mutates an operation it was handed and
// always copies before stamping parameters.
type Operation struct {
	// Name is the operation kind, for example "add".
	Name string `json:"operation" yaml:"operation"`

	// Address is the target resource.
	Address Path `json:"address" yaml:"address"`

	// Params holds the operation parameters. For add this is the resource's
	// attribute map.
	Params map[string]interface{} `json:"params,omitempty" yaml:"params,omitempty"`

	// Headers carries operation headers.
	Headers map[string]interface{} `json:"operation-headers,omitempty" yaml:"operation-headers,omitempty"`

	// Steps holds the nested operations of a composite.
	Steps []Operation `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// NewAdd creates an add operation with the given attribute parameters.
func NewAdd(address Path, params map[string]interface{}) Operation {
	return Operation{Name: OpAdd, Address: address, Params: copyMap(params)}
}

// NewWriteAttribute creates a write-attribute operation.
func NewWriteAttribute(address Path, name string, value interface{}) Operation {
	return Operation{
		Name:    OpWriteAttribute,
		Address: address,
		Params:  map[string]interface{}{ParamName: name, ParamValue: value},
	}
}

// NewUndefineAttribute creates an undefine-attribute operation.
func NewUndefineAttribute(address Path, name string) Operation {
	return Operation{
		Name:    OpUndefineAttribute,
		Address: address,
		Params:  map[string]interface{}{ParamName: name},
	}
}

// NewRemove creates a remove operation. When forReadd is set the operation
// carries HeaderRemovedForReadd.
func NewRemove(address Path, forReadd bool) Operation {
	op := Operation{Name: OpRemove, Address: address}
	if forReadd {
		op.Headers = map[string]interface{}{HeaderRemovedForReadd: true}
	}
	return op
}

// NewComposite wraps steps into a single atomic operation against the root.
func NewComposite(steps []Operation) Operation {
	out := make([]Operation, len(steps))
	copy(out, steps)
	return Operation{Name: OpComposite, Address: Root, Steps: out}
}

// AttributeName returns the "name" parameter of write/undefine operations.
func (o Operation) AttributeName() (string, bool) {
	n, ok := o.Params[ParamName].(string)
	return n, ok && n != ""
}

// Value returns the "value" parameter of a write-attribute operation.
func (o Operation) Value() interface{} {
	return o.Params[ParamValue]
}

// RemovedForReadd reports whether the remove carries the re-add marker.
func (o Operation) RemovedForReadd() bool {
	v, _ := o.Headers[HeaderRemovedForReadd].(bool)
	return v
}

// AddIndex returns the add-index parameter when present.
func (o Operation) AddIndex() (int, bool) {
	switch v := o.Params[ParamAddIndex].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// WithParam returns a copy of the operation with one parameter set.
func (o Operation) WithParam(name string, value interface{}) Operation {
	c := o.Clone()
	if c.Params == nil {
		c.Params = make(map[string]interface{})
	}
	c.Params[name] = value
	return c
}

// Clone returns a deep copy.
func (o Operation) Clone() Operation {
	c := Operation{
		Name:    o.Name,
		Address: o.Address.Subpath(0, len(o.Address)),
		Params:  copyMap(o.Params),
		Headers: copyMap(o.Headers),
	}
	if len(o.Steps) > 0 {
		c.Steps = make([]Operation, len(o.Steps))
		for i, s := range o.Steps {
			c.Steps[i] = s.Clone()
		}
	}
	return c
}

// Equal compares two operations structurally. Nil and empty maps are equal.
func (o Operation) Equal(other Operation) bool {
	if o.Name != other.Name || !o.Address.Equal(other.Address) {
		return false
	}
	if !mapsEqual(o.Params, other.Params) || !mapsEqual(o.Headers, other.Headers) {
		return false
	}
	if len(o.Steps) != len(other.Steps) {
		return false
	}
	for i := range o.Steps {
		if !o.Steps[i].Equal(other.Steps[i]) {
			return false
		}
	}
	return true
}

// String is a compact rendering used in logs and failure descriptions.
func (o Operation) String() string {
	switch o.Name {
	case OpWriteAttribute:
		n, _ := o.AttributeName()
		return fmt.Sprintf("%s:%s(name=%s,value=%v)", o.Address, o.Name, n, o.Value())
	case OpUndefineAttribute:
		n, _ := o.AttributeName()
		return fmt.Sprintf("%s:%s(name=%s)", o.Address, o.Name, n)
	case OpComposite:
		return fmt.Sprintf("%s:%s(%d steps)", o.Address, o.Name, len(o.Steps))
	default:
		return fmt.Sprintf("%s:%s", o.Address, o.Name)
	}
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mapsEqual(a, b map[string]interface{}) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
