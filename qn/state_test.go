package qn

import (
	"errors"
	"testing"

	"github.com/hallba/qncheck/interval"
)

func TestStateCloneIsIndependent(t *testing.T) {
	s := State{0: 1, 1: 2}
	c := s.Clone()
	c[0] = 9
	if s[0] != 1 {
		t.Fatalf("Clone aliased the original: %v", s)
	}
	if !s.Equal(State{1: 2, 0: 1}) {
		t.Fatal("Equal should ignore map ordering")
	}
	if s.Equal(State{0: 1}) || s.Equal(State{0: 1, 1: 3}) {
		t.Fatal("Equal matched a different state")
	}
}

func TestStateKeyIsCanonical(t *testing.T) {
	order := []int{0, 1, 2}
	a := State{0: 1, 1: 0, 2: 3}
	b := State{2: 3, 0: 1, 1: 0}
	if a.Key(order) != b.Key(order) {
		t.Fatalf("keys differ for equal states: %q vs %q", a.Key(order), b.Key(order))
	}
	if a.Key(order) == (State{0: 0, 1: 1, 2: 3}).Key(order) {
		t.Fatal("distinct states share a key")
	}
	if got, want := a.Key(order), "1,0,3"; got != want {
		t.Fatalf("Key = %q, want %q", got, want)
	}
}

func TestInitialStateClampsZero(t *testing.T) {
	n, err := New("offsets", []Variable{
		{ID: 0, Range: interval.New(0, 3)},
		{ID: 1, Range: interval.New(2, 5)},
		{ID: 2, Range: interval.New(-4, -1)},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s := InitialState(n)
	want := State{0: 0, 1: 2, 2: -1}
	if !s.Equal(want) {
		t.Fatalf("InitialState = %v, want %v", s, want)
	}
}

func TestValidateState(t *testing.T) {
	n, err := New("bounds", []Variable{
		{ID: 0, Range: interval.New(0, 2)},
		{ID: 1, Range: interval.New(0, 1)},
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := n.ValidateState(State{0: 2, 1: 0}); err != nil {
		t.Fatalf("valid state rejected: %v", err)
	}
	if err := n.ValidateState(State{0: 3, 1: 0}); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("out-of-range error = %v, want ErrInvalidRange", err)
	}
	if err := n.ValidateState(State{0: 0, 1: 0, 9: 1}); !errors.Is(err, ErrUnknownVariable) {
		t.Fatalf("unknown id error = %v, want ErrUnknownVariable", err)
	}
	if err := n.ValidateState(State{0: 0}); err == nil {
		t.Fatal("missing variable accepted")
	}
}
