package container

import "testing"

func TestListPushPopShift(t *testing.T) {
	l := NewList[int](0)
	l.Push(1)
	l.Push(2)
	l.Push(3)

	if v, ok := l.Shift(); !ok || v != 1 {
		t.Fatalf("Shift = (%d, %v), want (1, true)", v, ok)
	}
	if v, ok := l.Pop(); !ok || v != 3 {
		t.Fatalf("Pop = (%d, %v), want (3, true)", v, ok)
	}
	if l.Len() != 1 || l.At(0) != 2 {
		t.Fatalf("remaining list = %v", l.items)
	}
}

func TestListRemoveAtPreservesOrder(t *testing.T) {
	l := NewList[string](0)
	l.Push("a")
	l.Push("b")
	l.Push("c")
	l.RemoveAt(1)

	var got []string
	l.Each(func(v string) { got = append(got, v) })
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("got %v, want [a c]", got)
	}
}

func TestListIndexFunc(t *testing.T) {
	l := NewList[int](0)
	l.Push(10)
	l.Push(20)
	l.Push(30)
	idx := l.IndexFunc(func(v int) bool { return v == 20 })
	if idx != 1 {
		t.Fatalf("IndexFunc = %d, want 1", idx)
	}
	if l.IndexFunc(func(v int) bool { return v == 999 }) != -1 {
		t.Fatal("IndexFunc should return -1 for absent match")
	}
}

func TestSlabAddGetRemoveReuse(t *testing.T) {
	s := NewSlab[string]()
	a := s.Add("alpha")
	b := s.Add("beta")

	if v, ok := s.Get(a); !ok || v != "alpha" {
		t.Fatalf("Get(a) = (%q, %v)", v, ok)
	}

	s.Remove(a)
	if _, ok := s.Get(a); ok {
		t.Fatal("Get after Remove should miss")
	}
	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}

	c := s.Add("gamma")
	if c != a {
		t.Fatalf("Add after Remove should reuse freed slot %d, got %d", a, c)
	}
	_ = b
}
