// Package set provides a minimal generic set.
package set

// Set is an unordered collection of unique values. The zero value is an
// empty set ready to use.
type Set[T comparable] struct {
	set map[T]struct{}
}

// Of returns a set holding the given values.
func Of[T comparable](values ...T) *Set[T] {
	s := &Set[T]{}
	for _, v := range values {
		s.Insert(v)
	}
	return s
}

// Insert adds k to the set and reports whether it was newly added.
func (s *Set[T]) Insert(k T) bool {
	if s.set == nil {
		s.set = make(map[T]struct{})
	}
	if _, ok := s.set[k]; ok {
		return false
	}
	s.set[k] = struct{}{}
	return true
}

func (s *Set[T]) Contains(k T) bool {
	_, ok := s.set[k]
	return ok
}

func (s *Set[T]) Len() int {
	return len(s.set)
}
