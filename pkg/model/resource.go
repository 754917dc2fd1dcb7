package model

// Resource is a concrete configuration model: a node of the live tree with
// its attribute values and its children. Children are kept in a single list
// in declaration order; the relative order of children of one type is the
// order used by ordered child types.
type Resource struct {
	// Type is the key of this resource's path element. Empty for the root.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Name is the value of this resource's path element. Empty for the root.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Attributes holds the defined attribute values.
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// Children holds the child resources in declaration order.
	Children []*Resource `json:"children,omitempty" yaml:"children,omitempty"`
}

// NewResource creates a child resource with the given attributes.
func NewResource(key, name string, attributes map[string]interface{}) *Resource {
	return &Resource{Type: key, Name: name, Attributes: copyMap(attributes)}
}

// Element returns the path element of this resource.
func (r *Resource) Element() PathElement {
	return PathElement{Key: r.Type, Value: r.Name}
}

// ChildTypes returns the child types in order of first appearance.
func (r *Resource) ChildTypes() []string {
	seen := make(map[string]bool)
	var types []string
	for _, c := range r.Children {
		if !seen[c.Type] {
			seen[c.Type] = true
			types = append(types, c.Type)
		}
	}
	return types
}

// ChildrenOfType returns the children of one type in order.
func (r *Resource) ChildrenOfType(key string) []*Resource {
	var out []*Resource
	for _, c := range r.Children {
		if c.Type == key {
			out = append(out, c)
		}
	}
	return out
}

// Child returns the direct child key=name or nil.
func (r *Resource) Child(key, name string) *Resource {
	for _, c := range r.Children {
		if c.Type == key && c.Name == name {
			return c
		}
	}
	return nil
}

// Navigate walks address from r. It returns nil when any step is missing.
func (r *Resource) Navigate(address Path) *Resource {
	cur := r
	for _, e := range address {
		cur = cur.Child(e.Key, e.Value)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// InsertChild places child among the children of its type. A negative index,
// or one past the last child of the type, appends it.
func (r *Resource) InsertChild(child *Resource, index int) {
	if index < 0 {
		r.Children = append(r.Children, child)
		return
	}
	seen := 0
	for i, c := range r.Children {
		if c.Type != child.Type {
			continue
		}
		if seen == index {
			r.Children = append(r.Children[:i], append([]*Resource{child}, r.Children[i:]...)...)
			return
		}
		seen++
	}
	r.Children = append(r.Children, child)
}

// RemoveChild detaches key=name and reports whether it existed.
func (r *Resource) RemoveChild(key, name string) bool {
	for i, c := range r.Children {
		if c.Type == key && c.Name == name {
			r.Children = append(r.Children[:i], r.Children[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the resource tree. Attribute values are
// shared; they are treated as immutable.
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := &Resource{Type: r.Type, Name: r.Name, Attributes: copyMap(r.Attributes)}
	if len(r.Children) > 0 {
		c.Children = make([]*Resource, len(r.Children))
		for i, child := range r.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}
