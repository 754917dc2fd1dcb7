package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wildcard matches any value of a path element key.
const Wildcard = "*"

// PathElement is one key=value step of a resource address.
type PathElement struct {
	// Key is the resource type, for example "subsystem".
	Key string `json:"key"`

	// Value is the resource name within the type, or Wildcard.
	Value string `json:"value"`
}

// Element returns a new path element.
func Element(key, value string) PathElement {
	return PathElement{Key: key, Value: value}
}

// IsWildcard reports whether the element matches every value of its key.
func (e PathElement) IsWildcard() bool {
	return e.Value == Wildcard
}

// String renders the element as key=value.
func (e PathElement) String() string {
	return escapeSegment(e.Key) + "=" + escapeSegment(e.Value)
}

// Path is an ordered resource address. The zero value is the root.
// Paths are treated as immutable values: every method returning a Path
// returns a fresh copy.
type Path []PathElement

// Root is the empty address.
var Root = Path{}

// NewPath builds a path from alternating key/value pairs.
// It panics on an odd number of arguments.
func NewPath(pairs ...string) Path {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("model.NewPath: odd number of arguments (%d)", len(pairs)))
	}
	p := make(Path, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		p = append(p, PathElement{Key: pairs[i], Value: pairs[i+1]})
	}
	return p
}

// Append returns a new path with the elements added at the end.
func (p Path) Append(elements ...PathElement) Path {
	out := make(Path, 0, len(p)+len(elements))
	out = append(out, p...)
	return append(out, elements...)
}

// Child returns a new path extended with key=value.
func (p Path) Child(key, value string) Path {
	return p.Append(PathElement{Key: key, Value: value})
}

// Parent returns the address without its last element. The parent of the
// root is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return Root
	}
	return p.Subpath(0, len(p)-1)
}

// Subpath returns a copy of the elements in [from, to).
func (p Path) Subpath(from, to int) Path {
	out := make(Path, to-from)
	copy(out, p[from:to])
	return out
}

// Last returns the final element; ok is false for the root.
func (p Path) Last() (PathElement, bool) {
	if len(p) == 0 {
		return PathElement{}, false
	}
	return p[len(p)-1], true
}

// IsRoot reports whether the path has no elements.
func (p Path) IsRoot() bool {
	return len(p) == 0
}

// RootType returns the key of the first element, or "" for the root.
func (p Path) RootType() string {
	if len(p) == 0 {
		return ""
	}
	return p[0].Key
}

// HasWildcard reports whether any element is a wildcard.
func (p Path) HasWildcard() bool {
	for _, e := range p {
		if e.IsWildcard() {
			return true
		}
	}
	return false
}

// Equal compares two paths element by element.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix reports whether prefix is an ancestor of (or equal to) p.
func (p Path) HasPrefix(prefix Path) bool {
	if len(prefix) > len(p) {
		return false
	}
	return p[:len(prefix)].Equal(prefix)
}

// String renders the path as /key=value/key=value; the root renders as "/".
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, e := range p {
		b.WriteByte('/')
		b.WriteString(e.String())
	}
	return b.String()
}

// MarshalJSON encodes the path in its string form.
func (p Path) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts either the string form or a list of single-entry
// objects such as [{"subsystem":"logging"}].
func (p *Path) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := ParsePath(s)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}

	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	parsed, err := PathFromValue(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePath parses the string form produced by Path.String. A backslash
// escapes '/', '=' and '\' inside keys and values.
func ParsePath(s string) (Path, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "/" {
		return Path{}, nil
	}
	if s[0] != '/' {
		return nil, fmt.Errorf("invalid address %q: must start with '/'", s)
	}

	var (
		path    Path
		current strings.Builder
		key     string
		haveKey bool
	)
	flush := func() error {
		if !haveKey {
			return fmt.Errorf("invalid address %q: segment %q has no '='", s, current.String())
		}
		if key == "" || current.Len() == 0 {
			return fmt.Errorf("invalid address %q: empty key or value", s)
		}
		path = append(path, PathElement{Key: key, Value: current.String()})
		current.Reset()
		haveKey = false
		return nil
	}

	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			i++
			current.WriteByte(s[i])
		case c == '=' && !haveKey:
			key = current.String()
			current.Reset()
			haveKey = true
		case c == '/':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			current.WriteByte(c)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return path, nil
}

// MustParsePath is ParsePath that panics on error. Intended for tests and
// static tables.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// PathFromValue converts a decoded document value into a path. It accepts
// the string form, a list of single-entry maps and a list of [key, value]
// pairs.
func PathFromValue(v interface{}) (Path, error) {
	switch t := v.(type) {
	case nil:
		return Path{}, nil
	case string:
		return ParsePath(t)
	case Path:
		return t, nil
	case []interface{}:
		path := make(Path, 0, len(t))
		for i, item := range t {
			switch e := item.(type) {
			case map[string]interface{}:
				if len(e) != 1 {
					return nil, fmt.Errorf("invalid address element %d: expected exactly one key", i)
				}
				for k, val := range e {
					path = append(path, PathElement{Key: k, Value: fmt.Sprint(val)})
				}
			case []interface{}:
				if len(e) != 2 {
					return nil, fmt.Errorf("invalid address element %d: expected [key, value]", i)
				}
				path = append(path, PathElement{Key: fmt.Sprint(e[0]), Value: fmt.Sprint(e[1])})
			default:
				return nil, fmt.Errorf("invalid address element %d: unsupported type %T", i, item)
			}
		}
		return path, nil
	default:
		return nil, fmt.Errorf("invalid address: unsupported type %T", v)
	}
}

func escapeSegment(s string) string {
	if !strings.ContainsAny(s, `/=\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '/', '=', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
