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
	"math/bits"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Bitmap is a growable set of bits stored in words of type T.
// The zero value is an empty bitmap.
type Bitmap[T constraints.Unsigned] struct {
	words []T
	set   int
}

func wordBits[T constraints.Unsigned]() int {
	var t T
	return int(unsafe.Sizeof(t)) * 8
}

// Len returns the number of bits, always a multiple of the word size.
func (b *Bitmap[T]) Len() int {
	return len(b.words) * wordBits[T]()
}

// Rem returns the number of unset bits.
func (b *Bitmap[T]) Rem() int {
	return b.Len() - b.set
}

// Grow appends n zeroed words and returns the index of the first new bit.
func (b *Bitmap[T]) Grow(n int) int {
	i := b.Len()
	b.words = append(b.words, make([]T, n)...)
	return i
}

func (b *Bitmap[T]) IsSet(i int) bool {
	w := wordBits[T]()
	return b.words[i/w]&(T(1)<<(i%w)) != 0
}

func (b *Bitmap[T]) Set(i int) {
	if b.IsSet(i) {
		return
	}
	w := wordBits[T]()
	b.words[i/w] |= T(1) << (i % w)
	b.set++
}

func (b *Bitmap[T]) Unset(i int) {
	if !b.IsSet(i) {
		return
	}
	w := wordBits[T]()
	b.words[i/w] &^= T(1) << (i % w)
	b.set--
}

// Clear unsets every bit without shrinking.
func (b *Bitmap[T]) Clear() {
	clear(b.words)
	b.set = 0
}

// Search returns the index of the first unset bit.
func (b *Bitmap[T]) Search() (int, bool) {
	if b.Rem() == 0 {
		return 0, false
	}
	w := wordBits[T]()
	for i, word := range b.words {
		if ^word != 0 {
			return i*w + bits.TrailingZeros64(uint64(^word)), true
		}
	}
	return 0, false
}

// SearchRange returns the index of the first run of n contiguous unset bits.
func (b *Bitmap[T]) SearchRange(n int) (int, bool) {
	if n <= 0 || n > b.Rem() {
		return 0, false
	}
	run := 0
	for i := 0; i < b.Len(); i++ {
		if b.IsSet(i) {
			run = 0
			continue
		}
		run++
		if run == n {
			return i - n + 1, true
		}
	}
	return 0, false
}
