/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vkcore

import (
	"fmt"
	"math/bits"
)

// Handle identifies a slot of an Arena. It stays valid, and the address returned
// by Get stays stable, until the slot is deleted.
type Handle uint32

const InvalidHandle Handle = ^Handle(0)

const slabSize = 16

func (h Handle) String() string {
	if h == InvalidHandle {
		return "InvalidHandle"
	}
	return fmt.Sprintf("%d:%d", h/slabSize, h%slabSize)
}

type slab[T any] struct {
	items [slabSize]T
	refs  [slabSize]int32
	used  uint16
	next  *slab[T]
}

/*
Arena stores values in chained fixed size slabs. Slabs are only ever appended so
pointers into an Arena are never invalidated by an insert. A slot that was deleted
is reused by a later insert, so a stale Handle may alias a newer value.

Arena is not safe for concurrent use.
*/
type Arena[T any] struct {
	head    *slab[T]
	tail    *slab[T]
	slabs   []*slab[T]
	hint    int
	count   int
	destroy func(*T)
}

// NewArena returns an Arena that calls destroy, if non nil, on every value
// removed by Delete, the last Release or Clear.
func NewArena[T any](destroy func(*T)) *Arena[T] {
	return &Arena[T]{destroy: destroy}
}

func (a *Arena[T]) Len() int {
	return a.count
}

func (a *Arena[T]) alloc() (Handle, *slab[T], int) {
	for ; a.hint < len(a.slabs); a.hint++ {
		s := a.slabs[a.hint]
		if s.used != 0xFFFF {
			i := bits.TrailingZeros16(^s.used)
			return Handle(a.hint*slabSize + i), s, i
		}
	}

	s := &slab[T]{}
	if a.tail != nil {
		a.tail.next = s
	} else {
		a.head = s
	}
	a.tail = s
	a.slabs = append(a.slabs, s)
	return Handle(a.hint * slabSize), s, 0
}

func (a *Arena[T]) Insert(v T) Handle {
	h, s, i := a.alloc()
	s.items[i] = v
	s.refs[i] = 1
	s.used |= 1 << i
	a.count++
	return h
}

// Emplace reserves a slot and calls init on it in place.
func (a *Arena[T]) Emplace(init func(*T)) (Handle, *T) {
	h, s, i := a.alloc()
	s.refs[i] = 1
	s.used |= 1 << i
	a.count++
	if init != nil {
		init(&s.items[i])
	}
	return h, &s.items[i]
}

func (a *Arena[T]) lookup(h Handle) (*slab[T], int) {
	if h == InvalidHandle || int(h/slabSize) >= len(a.slabs) {
		return nil, 0
	}
	s := a.slabs[h/slabSize]
	i := int(h % slabSize)
	if s.used&(1<<i) == 0 {
		return nil, 0
	}
	return s, i
}

// Get returns nil for a handle whose slot is empty.
func (a *Arena[T]) Get(h Handle) *T {
	s, i := a.lookup(h)
	if s == nil {
		return nil
	}
	return &s.items[i]
}

func (a *Arena[T]) Delete(h Handle) bool {
	s, i := a.lookup(h)
	if s == nil {
		return false
	}
	a.remove(h, s, i)
	return true
}

func (a *Arena[T]) remove(h Handle, s *slab[T], i int) {
	if a.destroy != nil {
		a.destroy(&s.items[i])
	}
	var zero T
	s.items[i] = zero
	s.refs[i] = 0
	s.used &^= 1 << i
	a.count--
	a.hint = min(a.hint, int(h/slabSize))
}

// Retain adds a reference to a live handle.
func (a *Arena[T]) Retain(h Handle) {
	s, i := a.lookup(h)
	if s == nil {
		abort("Retain on dead handle %s", h)
		return
	}
	s.refs[i]++
}

// Release drops a reference and deletes the value when it was the last one, it
// reports whether the value was deleted.
func (a *Arena[T]) Release(h Handle) bool {
	s, i := a.lookup(h)
	if s == nil {
		abort("Release on dead handle %s", h)
		return false
	}
	if s.refs[i]--; s.refs[i] > 0 {
		return false
	}
	a.remove(h, s, i)
	return true
}

func (a *Arena[T]) RefCount(h Handle) int32 {
	s, i := a.lookup(h)
	if s == nil {
		return 0
	}
	return s.refs[i]
}

// Each calls f for every live value in handle order until f returns false.
func (a *Arena[T]) Each(f func(Handle, *T) bool) {
	base := 0
	for s := a.head; s != nil; s = s.next {
		for used := s.used; used != 0; used &= used - 1 {
			i := bits.TrailingZeros16(used)
			if !f(Handle(base+i), &s.items[i]) {
				return
			}
		}
		base += slabSize
	}
}

// Clear deletes every value and frees the slabs.
func (a *Arena[T]) Clear() {
	if a.destroy != nil {
		for s := a.head; s != nil; s = s.next {
			for used := s.used; used != 0; used &= used - 1 {
				a.destroy(&s.items[bits.TrailingZeros16(used)])
			}
		}
	}
	a.head = nil
	a.tail = nil
	a.slabs = nil
	a.hint = 0
	a.count = 0
}
