package models

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaxMarkers is the marker count of the largest supported box
const MaxMarkers = 9

// Role is the canonical position of a marker within the frame.
//
// The box has up to three N-shaped plates. Each plate shows three markers in
// an axial slice: an anchor post, a middle marker on the diagonal rod and a
// terminal post 120 mm from the anchor.
type Role int

const (
	LeftAnchor Role = iota
	LeftMiddle
	LeftTerminal
	RightAnchor
	RightMiddle
	RightTerminal
	AnteriorAnchor
	AnteriorMiddle
	AnteriorTerminal
)

var roleNames = [MaxMarkers]string{
	"left-anchor", "left-middle", "left-terminal",
	"right-anchor", "right-middle", "right-terminal",
	"anterior-anchor", "anterior-middle", "anterior-terminal",
}

// String returns the anatomical name of the role
func (r Role) String() string {
	if r < 0 || int(r) >= MaxMarkers {
		return fmt.Sprintf("Role(%d)", int(r))
	}
	return roleNames[r]
}

// Plate returns the plate index (0 left, 1 right, 2 anterior)
func (r Role) Plate() int {
	return int(r) / 3
}

// IsMiddle reports whether the role is the diagonal-rod marker of its plate
func (r Role) IsMiddle() bool {
	return int(r)%3 == 1
}

// ValidMarkerCount reports whether n is a supported box size
func ValidMarkerCount(n int) bool {
	return n == 6 || n == 9
}

// MarkerSet holds the markers of one slice indexed by role
type MarkerSet struct {
	Points  [MaxMarkers]r3.Vec
	Present [MaxMarkers]bool
}

// Set stores the point for a role
func (s *MarkerSet) Set(role Role, p r3.Vec) {
	s.Points[role] = p
	s.Present[role] = true
}

// Get returns the point for a role and whether it is present
func (s *MarkerSet) Get(role Role) (r3.Vec, bool) {
	if role < 0 || int(role) >= MaxMarkers {
		return r3.Vec{}, false
	}
	return s.Points[role], s.Present[role]
}

// Delete removes a role from the set
func (s *MarkerSet) Delete(role Role) {
	s.Points[role] = r3.Vec{}
	s.Present[role] = false
}

// Count returns the number of present roles
func (s *MarkerSet) Count() int {
	n := 0
	for _, ok := range s.Present {
		if ok {
			n++
		}
	}
	return n
}

// Roles returns the present roles in ascending order
func (s *MarkerSet) Roles() []Role {
	roles := make([]Role, 0, MaxMarkers)
	for i, ok := range s.Present {
		if ok {
			roles = append(roles, Role(i))
		}
	}
	return roles
}

// MarkerTable maps slice indices to the markers detected in that slice.
// Slices iterate in ascending order.
type MarkerTable struct {
	NbMarkers int
	slices    map[int]*MarkerSet
	order     []int
}

// NewMarkerTable creates an empty table
func NewMarkerTable() *MarkerTable {
	return &MarkerTable{slices: make(map[int]*MarkerSet)}
}

// Set records the markers of a slice. The set must hold exactly NbMarkers
// roles, all below NbMarkers.
func (t *MarkerTable) Set(slice int, set MarkerSet) error {
	if !ValidMarkerCount(t.NbMarkers) {
		return fmt.Errorf("marker table has invalid marker count %d", t.NbMarkers)
	}
	if n := set.Count(); n != t.NbMarkers {
		return fmt.Errorf("slice %d has %d markers, expected %d", slice, n, t.NbMarkers)
	}
	for i := t.NbMarkers; i < MaxMarkers; i++ {
		if set.Present[i] {
			return fmt.Errorf("slice %d has role %d outside a %d-marker box", slice, i, t.NbMarkers)
		}
	}
	if t.slices == nil {
		t.slices = make(map[int]*MarkerSet)
	}
	if _, ok := t.slices[slice]; !ok {
		idx := sort.SearchInts(t.order, slice)
		t.order = append(t.order, 0)
		copy(t.order[idx+1:], t.order[idx:])
		t.order[idx] = slice
	}
	s := set
	t.slices[slice] = &s
	return nil
}

// Get returns the markers of a slice
func (t *MarkerTable) Get(slice int) (MarkerSet, bool) {
	s, ok := t.slices[slice]
	if !ok {
		return MarkerSet{}, false
	}
	return *s, true
}

// Slices returns the recorded slice indices in ascending order
func (t *MarkerTable) Slices() []int {
	out := make([]int, len(t.order))
	copy(out, t.order)
	return out
}

// Len returns the number of recorded slices
func (t *MarkerTable) Len() int {
	return len(t.order)
}

// IsEmpty reports whether no slice is recorded
func (t *MarkerTable) IsEmpty() bool {
	return len(t.order) == 0
}

// Clear removes every slice and resets the marker count
func (t *MarkerTable) Clear() {
	t.NbMarkers = 0
	t.slices = make(map[int]*MarkerSet)
	t.order = nil
}

// Clone returns a deep copy of the table
func (t *MarkerTable) Clone() *MarkerTable {
	c := NewMarkerTable()
	c.NbMarkers = t.NbMarkers
	for _, idx := range t.order {
		s := *t.slices[idx]
		c.slices[idx] = &s
	}
	c.order = t.Slices()
	return c
}

// RemoveFrontPlateMarkers turns a 9-marker table into a 6-marker table by
// dropping the anterior plate roles from every slice. It reports whether
// anything changed.
func (t *MarkerTable) RemoveFrontPlateMarkers() bool {
	if t.NbMarkers != 9 {
		return false
	}
	for _, idx := range t.order {
		s := t.slices[idx]
		for r := AnteriorAnchor; r <= AnteriorTerminal; r++ {
			s.Delete(r)
		}
	}
	t.NbMarkers = 6
	return true
}

// Equal reports whether two tables hold the same slices with bit-identical points
func (t *MarkerTable) Equal(o *MarkerTable) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.NbMarkers != o.NbMarkers || len(t.order) != len(o.order) {
		return false
	}
	for i, idx := range t.order {
		if o.order[i] != idx {
			return false
		}
		if *t.slices[idx] != *o.slices[idx] {
			return false
		}
	}
	return true
}

// Each calls fn for every recorded (slice, role, point) in slice then role order
func (t *MarkerTable) Each(fn func(slice int, role Role, p r3.Vec)) {
	for _, idx := range t.order {
		s := t.slices[idx]
		for r := 0; r < MaxMarkers; r++ {
			if s.Present[r] {
				fn(idx, Role(r), s.Points[r])
			}
		}
	}
}
