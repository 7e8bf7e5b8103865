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
	"slices"
	"testing"
)

func TestArenaInsertStable(t *testing.T) {
	a := NewArena[int](nil)
	handles := make([]Handle, 20)
	ptrs := make([]*int, 20)
	for i := range handles {
		handles[i] = a.Insert(i * 10)
		ptrs[i] = a.Get(handles[i])
	}
	for i, h := range handles {
		if h != Handle(i) {
			t.Fatalf("Insert #%d returned handle %s", i, h)
		}
		if got := a.Get(h); got != ptrs[i] || *got != i*10 {
			t.Fatalf("Get(%s) = %p (%d), want %p (%d)", h, got, *got, ptrs[i], i*10)
		}
	}
	if a.Len() != 20 {
		t.Fatalf("Len() = %d, want 20", a.Len())
	}
	if got := Handle(17).String(); got != "1:1" {
		t.Fatalf("Handle(17).String() = %q, want \"1:1\"", got)
	}
	if got := InvalidHandle.String(); got != "InvalidHandle" {
		t.Fatalf("InvalidHandle.String() = %q", got)
	}
}

func TestArenaReuse(t *testing.T) {
	a := NewArena[int](nil)
	for i := 0; i < 20; i++ {
		a.Insert(i)
	}
	if !a.Delete(3) {
		t.Fatal("Delete(3) = false")
	}
	if a.Delete(3) {
		t.Fatal("second Delete(3) = true")
	}
	if a.Get(3) != nil {
		t.Fatal("Get on a deleted handle returned a value")
	}
	if h := a.Insert(100); h != 3 {
		t.Fatalf("Insert after Delete(3) = %s, want 0:3", h)
	}
	if h := a.Insert(101); h != 20 {
		t.Fatalf("Insert with full slabs = %s, want 1:4", h)
	}
	if *a.Get(3) != 100 {
		t.Fatalf("Get(3) = %d, want 100", *a.Get(3))
	}
	if a.Get(InvalidHandle) != nil || a.Get(1000) != nil {
		t.Fatal("Get on an out of range handle returned a value")
	}
}

func TestArenaRefCount(t *testing.T) {
	var destroyed []int
	a := NewArena(func(v *int) { destroyed = append(destroyed, *v) })
	h := a.Insert(7)

	a.Retain(h)
	a.Retain(h)
	if got := a.RefCount(h); got != 3 {
		t.Fatalf("RefCount = %d, want 3", got)
	}
	for i := 0; i < 2; i++ {
		if a.Release(h) {
			t.Fatalf("Release #%d deleted the value", i)
		}
	}
	if len(destroyed) != 0 {
		t.Fatalf("destroy ran early: %v", destroyed)
	}
	if !a.Release(h) {
		t.Fatal("last Release did not delete the value")
	}
	if !slices.Equal(destroyed, []int{7}) {
		t.Fatalf("destroyed = %v, want [7]", destroyed)
	}
	if a.RefCount(h) != 0 || a.Len() != 0 {
		t.Fatalf("RefCount = %d Len = %d after the last Release", a.RefCount(h), a.Len())
	}

	mustAbort(t, func() { a.Retain(h) })
	mustAbort(t, func() { a.Release(h) })
}

func TestArenaEach(t *testing.T) {
	a := NewArena[int](nil)
	for i := 0; i < 40; i++ {
		a.Insert(i)
	}
	for i := 0; i < 40; i += 3 {
		a.Delete(Handle(i))
	}

	var got []Handle
	a.Each(func(h Handle, v *int) bool {
		if int(h) != *v {
			t.Errorf("Each passed handle %s with value %d", h, *v)
		}
		got = append(got, h)
		return true
	})
	var want []Handle
	for i := 0; i < 40; i++ {
		if i%3 != 0 {
			want = append(want, Handle(i))
		}
	}
	if !slices.Equal(got, want) {
		t.Fatalf("Each visited %v, want %v", got, want)
	}

	n := 0
	a.Each(func(Handle, *int) bool {
		n++
		return n < 5
	})
	if n != 5 {
		t.Fatalf("Each kept going after f returned false, visited %d", n)
	}
}

func TestArenaClear(t *testing.T) {
	destroyed := 0
	a := NewArena(func(*string) { destroyed++ })
	for i := 0; i < 33; i++ {
		a.Insert("x")
	}
	a.Delete(5)
	a.Clear()
	if destroyed != 33 {
		t.Fatalf("destroy ran %d times, want 33", destroyed)
	}
	if a.Len() != 0 || a.Get(0) != nil {
		t.Fatal("Clear left values behind")
	}
	if h := a.Insert("y"); h != 0 {
		t.Fatalf("Insert after Clear = %s, want 0:0", h)
	}
}

func TestArenaEmplace(t *testing.T) {
	type pair struct{ a, b int }
	a := NewArena[pair](nil)
	a.Insert(pair{})
	h, p := a.Emplace(func(v *pair) { v.a, v.b = 1, 2 })
	if h != 1 || p != a.Get(h) || *p != (pair{1, 2}) {
		t.Fatalf("Emplace = %s, %+v", h, *p)
	}
	if a.RefCount(h) != 1 {
		t.Fatalf("RefCount after Emplace = %d, want 1", a.RefCount(h))
	}
}
