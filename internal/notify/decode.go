package notify

// DecodeObject converts an engine object diff into an ObjectChange.
//
// The deletion flag is read first. Modified keys are only read for live
// objects; the engine buffer is not valid for deleted ones.
func DecodeObject(ch ObjectChanges) ObjectChange {
	out := ObjectChange{
		IsDeleted:          ch.IsDeleted(),
		ModifiedProperties: []PropertyKey{},
	}
	if out.IsDeleted {
		return out
	}

	n := ch.NumModifiedProperties()
	if n <= 0 {
		return out
	}
	keys := make([]PropertyKey, n)
	written := ch.ModifiedProperties(keys)
	if written < n {
		keys = keys[:max(written, 0)]
	}
	out.ModifiedProperties = keys
	return out
}

// DecodeCollection converts an engine collection diff into a
// CollectionChange, shifting every index by base.
//
// Counts are read first so each buffer is allocated exactly once; the four
// index arrays are then filled in a single call.
func DecodeCollection(ch CollectionChanges, base IndexBase) CollectionChange {
	numDel, numIns, numMod := ch.NumChanges()

	out := CollectionChange{
		Deletions:        make([]int, max(numDel, 0)),
		Insertions:       make([]int, max(numIns, 0)),
		ModificationsOld: make([]int, max(numMod, 0)),
		ModificationsNew: make([]int, max(numMod, 0)),
	}
	ch.Changes(out.Deletions, out.Insertions, out.ModificationsOld, out.ModificationsNew)

	if off := base.Offset(); off != 0 {
		shift(out.Deletions, off)
		shift(out.Insertions, off)
		shift(out.ModificationsOld, off)
		shift(out.ModificationsNew, off)
	}
	return out
}

func shift(indices []int, off int) {
	for i := range indices {
		indices[i] += off
	}
}
