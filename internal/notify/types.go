package notify

import "fmt"

// PropertyKey identifies a property within an object's class.
type PropertyKey int64

// Kind distinguishes the two change set variants.
type Kind int

const (
	// KindObject marks an ObjectChange.
	KindObject Kind = iota + 1
	// KindCollection marks a CollectionChange.
	KindCollection
)

// String returns "object" or "collection".
func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindCollection:
		return "collection"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ChangeSet is a decoded diff. It is either an ObjectChange or a
// CollectionChange.
type ChangeSet interface {
	Kind() Kind
	isChangeSet()
}

// ObjectChange describes what happened to a single observed object.
// ModifiedProperties is always empty when IsDeleted is true.
type ObjectChange struct {
	IsDeleted          bool          `json:"isDeleted" yaml:"isDeleted"`
	ModifiedProperties []PropertyKey `json:"modifiedProperties" yaml:"modifiedProperties"`
}

// Kind implements ChangeSet.
func (ObjectChange) Kind() Kind { return KindObject }

func (ObjectChange) isChangeSet() {}

// CollectionChange describes index-level changes to an observed collection.
//
// All four slices are ascending. Deletions and ModificationsOld refer to the
// collection before the change; Insertions and ModificationsNew refer to it
// after. ModificationsOld[i] and ModificationsNew[i] name the same element.
type CollectionChange struct {
	Deletions        []int `json:"deletions" yaml:"deletions"`
	Insertions       []int `json:"insertions" yaml:"insertions"`
	ModificationsOld []int `json:"modificationsOld" yaml:"modificationsOld"`
	ModificationsNew []int `json:"modificationsNew" yaml:"modificationsNew"`
}

// Kind implements ChangeSet.
func (CollectionChange) Kind() Kind { return KindCollection }

func (CollectionChange) isChangeSet() {}

// Empty reports whether the change carries no indices at all.
func (c CollectionChange) Empty() bool {
	return len(c.Deletions) == 0 && len(c.Insertions) == 0 &&
		len(c.ModificationsOld) == 0 && len(c.ModificationsNew) == 0
}

// ObjectChanges is the engine-native view of an object diff.
//
// The modified-property buffer is only meaningful when IsDeleted is false.
type ObjectChanges interface {
	IsDeleted() bool
	NumModifiedProperties() int
	// ModifiedProperties fills out and returns the number of keys written.
	ModifiedProperties(out []PropertyKey) int
}

// CollectionChanges is the engine-native view of a collection diff.
// Indices are zero-based.
type CollectionChanges interface {
	NumChanges() (deletions, insertions, modifications int)
	// Changes fills all four buffers in one call. Buffers are sized by the
	// counts from NumChanges.
	Changes(deletions, insertions, modificationsOld, modificationsNew []int)
}

// Registration is an engine-side subscription.
type Registration interface {
	Unregister()
}

// ObjectTarget is anything that reports object diffs.
type ObjectTarget interface {
	AddObjectCallback(fn func(ObjectChanges)) (Registration, error)
}

// CollectionTarget is anything that reports collection diffs.
type CollectionTarget interface {
	AddCollectionCallback(fn func(CollectionChanges)) (Registration, error)
}

// IndexBase is the indexing convention applied to collection indices at the
// delivery boundary. The engine itself is always zero-based.
type IndexBase int

const (
	// ZeroBased delivers engine indices unchanged.
	ZeroBased IndexBase = iota
	// OneBased adds one to every delivered index, for hosts whose arrays
	// start at 1.
	OneBased
)

// Offset returns the amount added to each engine index.
func (b IndexBase) Offset() int {
	if b == OneBased {
		return 1
	}
	return 0
}

// String returns "zero" or "one".
func (b IndexBase) String() string {
	if b == OneBased {
		return "one"
	}
	return "zero"
}

// ParseIndexBase accepts "zero"/"0" and "one"/"1".
func ParseIndexBase(s string) (IndexBase, error) {
	switch s {
	case "", "zero", "0":
		return ZeroBased, nil
	case "one", "1":
		return OneBased, nil
	default:
		return ZeroBased, fmt.Errorf("%w: %q", ErrInvalidIndexBase, s)
	}
}
