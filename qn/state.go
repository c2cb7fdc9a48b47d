package qn

import (
	"fmt"
	"strconv"
	"strings"
)

// State assigns a concrete value to each variable id.
type State map[int]int

// Value satisfies the evaluator's environment interface.
func (s State) Value(id int) (int, bool) {
	v, ok := s[id]
	return v, ok
}

// Clone returns an independent copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for id, v := range s {
		out[id] = v
	}
	return out
}

// Equal reports whether two states assign the same values to the same ids.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for id, v := range s {
		if ov, ok := other[id]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Key renders the state canonically over the given id order, suitable as a
// visited-set key during state-space search.
func (s State) Key(order []int) string {
	var b strings.Builder
	for i, id := range order {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(s[id]))
	}
	return b.String()
}

// InitialState returns the default starting state: every variable at zero,
// clamped into its declared range.
func InitialState(n *Network) State {
	s := make(State, len(n.vars))
	for _, v := range n.vars {
		s[v.ID] = v.Range.Clamp(0)
	}
	return s
}

// ValidateState checks that the state covers exactly the network's
// variables and that every value lies in its declared range.
func (n *Network) ValidateState(s State) error {
	for id, v := range s {
		r, ok := n.RangeOf(id)
		if !ok {
			return fmt.Errorf("state: %w: id %d", ErrUnknownVariable, id)
		}
		if !r.Contains(v) {
			return fmt.Errorf("state: %w: variable %d value %d outside %s", ErrInvalidRange, id, v, r)
		}
	}
	for _, v := range n.vars {
		if _, ok := s[v.ID]; !ok {
			return fmt.Errorf("state: missing value for variable %d (%s)", v.ID, v.Name)
		}
	}
	return nil
}
