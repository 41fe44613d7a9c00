// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"math/bits"
	"strings"
)

// Set is a set of hardware enumeration values.
// Bit i of the set is the member T(i), which is also how the
// hardware lays out unit and flag masks in registers.
type Set[T Enum] uint64

// SetOf returns the set holding the provided values.
func SetOf[T Enum](vs ...T) Set[T] {
	var s Set[T]
	return s.With(vs...)
}

// SetFromBits returns the set described by the provided hardware mask.
func SetFromBits[T Enum](mask uint64) Set[T] {
	return Set[T](mask)
}

// With returns a copy of s with the provided values added.
func (s Set[T]) With(vs ...T) Set[T] {
	for _, v := range vs {
		s |= 1 << uint(v)
	}
	return s
}

// Without returns a copy of s with the provided values removed.
func (s Set[T]) Without(vs ...T) Set[T] {
	for _, v := range vs {
		s &^= 1 << uint(v)
	}
	return s
}

func (s Set[T]) Union(o Set[T]) Set[T] { return s | o }
func (s Set[T]) Has(v T) bool          { return s&(1<<uint(v)) != 0 }
func (s Set[T]) Len() int              { return bits.OnesCount64(uint64(s)) }
func (s Set[T]) Empty() bool           { return s == 0 }
func (s Set[T]) Bits() uint64          { return uint64(s) }

// Valid reports whether all members of s are valid enumeration values.
func (s Set[T]) Valid() bool {
	for _, v := range s.Slice() {
		if !v.Valid() {
			return false
		}
	}
	return true
}

// Slice returns the members of s in ascending order.
func (s Set[T]) Slice() []T {
	vs := make([]T, 0, s.Len())
	for m := uint64(s); m != 0; m &= m - 1 {
		vs = append(vs, T(bits.TrailingZeros64(m)))
	}
	return vs
}

func (s Set[T]) String() string {
	vs := s.Slice()
	o := new(strings.Builder)
	o.WriteString("{")
	for i, v := range vs {
		if i > 0 {
			o.WriteString(", ")
		}
		o.WriteString(v.String())
	}
	o.WriteString("}")
	return o.String()
}
