// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sets implement a set type as a `map[T]struct{}` but with better ergonomics, and an
// insertion-ordered variant used for graph traversals where visitation order matters.
package sets

import "slices"

// Set implements a Set for the key type T.
type Set[T comparable] map[T]struct{}

// Make returns an empty Set of the given type. Size is optional, and if given
// will reserve the expected size.
func Make[T comparable](size ...int) Set[T] {
	if len(size) == 0 {
		return make(Set[T])
	}
	return make(Set[T], size[0])
}

// MakeWith creates a Set[T] with the given elements inserted.
func MakeWith[T comparable](elements ...T) Set[T] {
	s := Make[T](len(elements))
	for _, element := range elements {
		s.Insert(element)
	}
	return s
}

// Has returns true if Set s has the given key.
func (s Set[T]) Has(key T) bool {
	_, found := s[key]
	return found
}

// Insert keys into set.
func (s Set[T]) Insert(keys ...T) {
	for _, key := range keys {
		s[key] = struct{}{}
	}
}

// Sub returns `s - s2`, that is, all elements in `s` that are not in `s2`.
func (s Set[T]) Sub(s2 Set[T]) Set[T] {
	sub := Make[T]()
	for k := range s {
		if !s2.Has(k) {
			sub.Insert(k)
		}
	}
	return sub
}

// Equal returns whether s and s2 have the exact same elements.
func (s Set[T]) Equal(s2 Set[T]) bool {
	if len(s) != len(s2) {
		return false
	}
	for k := range s {
		if !s2.Has(k) {
			return false
		}
	}
	return true
}

// Ordered is a set that remembers the order in which elements were first inserted.
//
// The zero value is not usable, create it with MakeOrdered.
type Ordered[T comparable] struct {
	index    map[T]int
	elements []T
}

// MakeOrdered returns an empty Ordered set, with the given elements inserted in order.
func MakeOrdered[T comparable](elements ...T) *Ordered[T] {
	o := &Ordered[T]{index: make(map[T]int, len(elements))}
	for _, e := range elements {
		o.Insert(e)
	}
	return o
}

// Insert adds key to the set, if not there yet. It returns true if key was newly inserted.
func (o *Ordered[T]) Insert(key T) bool {
	if _, found := o.index[key]; found {
		return false
	}
	o.index[key] = len(o.elements)
	o.elements = append(o.elements, key)
	return true
}

// Has returns whether key was inserted.
func (o *Ordered[T]) Has(key T) bool {
	_, found := o.index[key]
	return found
}

// Len returns the number of elements in the set.
func (o *Ordered[T]) Len() int { return len(o.elements) }

// Position returns the insertion position of key, or -1 if not present.
func (o *Ordered[T]) Position(key T) int {
	if pos, found := o.index[key]; found {
		return pos
	}
	return -1
}

// Elements returns a copy of the elements in insertion order.
func (o *Ordered[T]) Elements() []T {
	return slices.Clone(o.elements)
}
