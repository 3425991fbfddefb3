// Package selection tracks which catalog items the buyer has chosen.
package selection

import (
	"errors"
	"fmt"

	"github.com/jetsetgo/group-checkout/internal/catalog"
)

// ErrUnknownItem rejects ids that are not in the bound catalog
var ErrUnknownItem = errors.New("item is not in the catalog")

// AllState is the tri-state of the select-all control
type AllState int

const (
	None AllState = iota
	Some
	All
)

func (s AllState) String() string {
	switch s {
	case All:
		return "all"
	case Some:
		return "some"
	default:
		return "none"
	}
}

// Set is the selection bound to one catalog. Every member is an id of that
// catalog. Not safe for concurrent use; the owning session serializes access.
type Set struct {
	catalog  *catalog.Catalog
	selected map[string]bool
}

// New returns an empty selection over c
func New(c *catalog.Catalog) *Set {
	return &Set{catalog: c, selected: make(map[string]bool)}
}

// Toggle flips id and returns its new membership
func (s *Set) Toggle(id string) (bool, error) {
	if !s.catalog.Has(id) {
		return false, fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	on := !s.selected[id]
	s.set(id, on)
	return on, nil
}

// Set forces id's membership
func (s *Set) Set(id string, on bool) error {
	if !s.catalog.Has(id) {
		return fmt.Errorf("%w: %q", ErrUnknownItem, id)
	}
	s.set(id, on)
	return nil
}

func (s *Set) set(id string, on bool) {
	if on {
		s.selected[id] = true
	} else {
		delete(s.selected, id)
	}
}

// Selected reports whether id is chosen
func (s *Set) Selected(id string) bool {
	return s.selected[id]
}

// IDs returns the chosen ids in catalog order
func (s *Set) IDs() []string {
	ids := make([]string, 0, len(s.selected))
	for _, it := range s.catalog.Items {
		if s.selected[it.ID] {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Count is the number of chosen items, which is also the badge value
func (s *Set) Count() int {
	return len(s.selected)
}

// Total is Count times the catalog unit price
func (s *Set) Total() int64 {
	return int64(s.Count()) * s.catalog.UnitPrice
}

// AllState reports none, all, or some selected. An empty catalog is None.
func (s *Set) AllState() AllState {
	n := s.Count()
	switch {
	case n == 0:
		return None
	case n == len(s.catalog.Items):
		return All
	default:
		return Some
	}
}

// ToggleAll selects everything unless everything is already selected, in
// which case it clears. A partial selection always becomes All.
func (s *Set) ToggleAll() AllState {
	target := s.AllState() != All
	for _, it := range s.catalog.Items {
		s.set(it.ID, target)
	}
	return s.AllState()
}

// Clear empties the selection
func (s *Set) Clear() {
	s.selected = make(map[string]bool)
}

// CanCheckout reports whether the checkout control should be enabled
func (s *Set) CanCheckout(identityResolved bool) bool {
	return s.Total() > 0 && identityResolved
}
