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

package container

import (
	"slices"
	"testing"
)

func TestStack(t *testing.T) {
	var s Stack[int]
	if _, ok := s.TryPop(); ok {
		t.Fatal("TryPop on empty stack returned ok")
	}
	s.Push(1, 2)
	s.Push(3)
	if got := s.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	if got := s.Pop(); got != 3 {
		t.Fatalf("Pop() = %d, want 3", got)
	}
	if got := s.Drain(); !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("Drain() = %v, want [1 2]", got)
	}
	if !s.Empty() {
		t.Fatal("stack not empty after Drain")
	}
}

func TestBitmapSearch(t *testing.T) {
	var b Bitmap[uint16]
	if _, ok := b.Search(); ok {
		t.Fatal("Search on empty bitmap returned ok")
	}
	if got := b.Grow(1); got != 0 {
		t.Fatalf("Grow(1) = %d, want 0", got)
	}
	for i := 0; i < 16; i++ {
		idx, ok := b.Search()
		if !ok || idx != i {
			t.Fatalf("Search() = %d, %v, want %d, true", idx, ok, i)
		}
		b.Set(idx)
	}
	if _, ok := b.Search(); ok {
		t.Fatal("Search on full bitmap returned ok")
	}
	if got := b.Grow(1); got != 16 {
		t.Fatalf("Grow(1) = %d, want 16", got)
	}
	b.Unset(5)
	if idx, _ := b.Search(); idx != 5 {
		t.Fatalf("Search() = %d after Unset(5), want 5", idx)
	}
	if got := b.Rem(); got != 17 {
		t.Fatalf("Rem() = %d, want 17", got)
	}
}

func TestBitmapSearchRange(t *testing.T) {
	tests := []struct {
		name string
		set  []int
		n    int
		want int
		ok   bool
	}{
		{"empty", nil, 4, 0, true},
		{"after prefix", []int{0, 1}, 3, 2, true},
		{"skip hole", []int{2, 5}, 3, 6, true},
		{"span words", []int{0, 1, 2, 3, 4, 5, 6}, 10, 7, true},
		{"too large", nil, 33, 0, false},
		{"fragmented", []int{3, 7, 11, 15, 19, 23, 27, 31}, 4, 0, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var b Bitmap[uint8]
			b.Grow(4)
			for _, i := range test.set {
				b.Set(i)
			}
			got, ok := b.SearchRange(test.n)
			if ok != test.ok || (ok && got != test.want) {
				t.Fatalf("SearchRange(%d) = %d, %v, want %d, %v", test.n, got, ok, test.want, test.ok)
			}
		})
	}
}
