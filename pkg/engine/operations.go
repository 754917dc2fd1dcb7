package engine

import "github.com/openfroyo/modelsync/pkg/model"

const (
	extensionType               = "extension"
	managementClientContentType = "management-client-content"
)

// OrderedOperations accumulates the operations emitted by a reconciliation
// pass and classifies them into buckets.
type OrderedOperations struct {
	extensionAdds       []model.Operation
	nonExtensionAdds    []model.Operation
	extensionRemoves    []model.Operation
	nonExtensionRemoves []model.Operation
	allOps              []model.Operation

	excluded   ExcludePredicate
	booting    bool
	excludedN  int
	unresolved []model.Path
}

// NewOrderedOperations creates an empty collection. Operations whose address
// matches excluded are dropped. Hard-coded management client content is only
// applied while booting.
func NewOrderedOperations(excluded ExcludePredicate, booting bool) *OrderedOperations {
	return &OrderedOperations{excluded: excluded, booting: booting}
}

// Add classifies op by kind and by the first key of its address.
func (o *OrderedOperations) Add(op model.Operation) Bucket {
	if o.excluded != nil && o.excluded(op.Address) {
		o.excludedN++
		return BucketExcluded
	}

	var bucket Bucket
	rootType := op.Address.RootType()
	if op.Name == model.OpRemove {
		if rootType == extensionType {
			o.extensionRemoves = append(o.extensionRemoves, op)
			bucket = BucketExtensionRemoves
		} else {
			o.nonExtensionRemoves = append(o.nonExtensionRemoves, op)
			bucket = BucketNonExtensionRemoves
		}
	} else {
		switch {
		case rootType == extensionType:
			o.extensionAdds = append(o.extensionAdds, op)
			bucket = BucketExtensionAdds
		case rootType == managementClientContentType && !o.booting:
			// Kept in the log only; the post-pass fetch decides what to do with it.
			bucket = BucketLogOnly
		default:
			o.nonExtensionAdds = append(o.nonExtensionAdds, op)
			bucket = BucketNonExtensionAdds
		}
	}
	o.allOps = append(o.allOps, op)
	return bucket
}

// ReverseList returns the batch in the order a stack-based executor must
// push it. Once popped the executor runs extension removes, then extension
// adds, then one composite holding the non-extension removes (most recently
// discovered first) followed by the non-extension adds.
func (o *OrderedOperations) ReverseList() []model.Operation {
	var result []model.Operation

	steps := make([]model.Operation, 0, len(o.nonExtensionRemoves)+len(o.nonExtensionAdds))
	for i := len(o.nonExtensionRemoves) - 1; i >= 0; i-- {
		steps = append(steps, o.nonExtensionRemoves[i])
	}
	steps = append(steps, o.nonExtensionAdds...)
	if len(steps) > 0 {
		result = append(result, model.NewComposite(steps))
	}

	result = append(result, o.extensionAdds...)
	result = append(result, o.extensionRemoves...)
	return result
}

// AllOps returns every operation that was not excluded, in emission order.
func (o *OrderedOperations) AllOps() []model.Operation {
	out := make([]model.Operation, len(o.allOps))
	copy(out, o.allOps)
	return out
}

// IsEmpty reports whether the batch would be empty.
func (o *OrderedOperations) IsEmpty() bool {
	return len(o.extensionAdds) == 0 && len(o.nonExtensionAdds) == 0 &&
		len(o.extensionRemoves) == 0 && len(o.nonExtensionRemoves) == 0
}

// Excluded returns the number of operations dropped by the exclusion predicate.
func (o *OrderedOperations) Excluded() int {
	return o.excludedN
}

// Unresolved returns the addresses skipped because no registration matched.
func (o *OrderedOperations) Unresolved() []model.Path {
	out := make([]model.Path, len(o.unresolved))
	copy(out, o.unresolved)
	return out
}

// Counts returns the number of operations in each bucket.
func (o *OrderedOperations) Counts() map[Bucket]int {
	return map[Bucket]int{
		BucketExtensionAdds:       len(o.extensionAdds),
		BucketExtensionRemoves:    len(o.extensionRemoves),
		BucketNonExtensionAdds:    len(o.nonExtensionAdds),
		BucketNonExtensionRemoves: len(o.nonExtensionRemoves),
		BucketLogOnly:             len(o.allOps) - len(o.extensionAdds) - len(o.extensionRemoves) - len(o.nonExtensionAdds) - len(o.nonExtensionRemoves),
		BucketExcluded:            o.excludedN,
	}
}

func (o *OrderedOperations) recordUnresolved(address model.Path) {
	o.unresolved = append(o.unresolved, address)
}
