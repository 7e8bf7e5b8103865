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

package util

import "testing"

type panicPlatform struct{}

func (panicPlatform) Abort()                     { panic("abort") }
func (panicPlatform) AbortPopup(string, ...any) { panic("abort") }

func mustAbort(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatal("expected abort")
		}
	}()
	f()
}

func TestNoCopy(t *testing.T) {
	Init(panicPlatform{})

	type guarded struct {
		noCopy NoCopy
	}
	g := &guarded{}
	if !g.noCopy.InitLazy() {
		t.Fatal("InitLazy on zero value returned false")
	}
	if g.noCopy.InitLazy() {
		t.Fatal("second InitLazy returned true")
	}
	g.noCopy.Check()

	// what a copy by value leaves behind, addr still points at the original
	copied := &guarded{noCopy: NoCopy{addr: &g.noCopy}}
	mustAbort(t, copied.noCopy.Check)
	mustAbort(t, g.noCopy.Init)

	g.noCopy.Close()
	mustAbort(t, g.noCopy.Check)
}

func TestAlign(t *testing.T) {
	tests := []struct {
		v, align, want uint64
	}{
		{0, 256, 0},
		{1, 256, 256},
		{256, 256, 256},
		{257, 64, 320},
	}
	for _, test := range tests {
		if got := AlignUp(test.v, test.align); got != test.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", test.v, test.align, got, test.want)
		}
	}
	if IsPowerOfTwo(uint32(0)) || IsPowerOfTwo(uint32(12)) || !IsPowerOfTwo(uint32(4096)) {
		t.Error("IsPowerOfTwo returned the wrong result")
	}
	if got := DivCeil(uint32(129), 128); got != 2 {
		t.Errorf("DivCeil(129, 128) = %d, want 2", got)
	}
}
