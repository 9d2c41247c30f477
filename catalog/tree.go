package catalog

import (
	"fmt"

	"github.com/xraph/tarif/id"
)

// AncestorChain walks the category tree from the given category up to its
// root using the supplied lookup map. The returned slice is ordered
// leaf-first. It fails on a missing parent or a cycle.
func AncestorChain(start id.CategoryID, byID map[id.CategoryID]*Category) ([]*Category, error) {
	var chain []*Category

	seen := make(map[id.CategoryID]bool)
	current := start

	for !current.IsNil() {
		if seen[current] {
			return nil, fmt.Errorf("catalog: category tree cycle at %s", current)
		}
		seen[current] = true

		cat, ok := byID[current]
		if !ok {
			return nil, fmt.Errorf("catalog: category %s not found", current)
		}

		chain = append(chain, cat)
		current = cat.ParentID
	}

	return chain, nil
}

// ExclusiveRoot returns the ID of the IsSingle category closest to the
// root in a leaf-first ancestor chain. Subscriptions to plans whose
// categories share an exclusive root are mutually exclusive per user.
// The second return is false when no category in the chain is exclusive.
func ExclusiveRoot(chain []*Category) (id.CategoryID, bool) {
	for i := len(chain) - 1; i >= 0; i-- {
		if chain[i].IsSingle {
			return chain[i].ID, true
		}
	}
	return id.Nil, false
}
