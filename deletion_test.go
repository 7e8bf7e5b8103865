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

	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/driver/simdriver"
)

func TestDeletionQueueOrder(t *testing.T) {
	var order []int
	q := deletionQueue{}
	q.push(
		DestroyFunc(func() { order = append(order, 1) }),
		DestroyFunc(func() {
			order = append(order, 2)
			q.push(DestroyFunc(func() { order = append(order, 3) }))
		}),
	)
	if q.len() != 2 {
		t.Fatalf("len() = %d, want 2", q.len())
	}
	if n := q.flush(); n != 3 {
		t.Fatalf("flush() = %d, want 3", n)
	}
	if !slices.Equal(order, []int{1, 2, 3}) {
		t.Fatalf("order = %v, want [1 2 3]", order)
	}
	if q.len() != 0 || q.flush() != 0 {
		t.Fatal("queue not empty after flush")
	}
}

func TestQueueDestroyWaitsForSlot(t *testing.T) {
	d, _ := newTestDevice(t, simdriver.Options{}, Config{MaxFramesInFlight: 2})

	ran := map[uint64]bool{}
	for n := uint64(1); n <= 3; n++ {
		f := beginFrame(t, d)
		for m := range ran {
			// frame m's slot is reused by frame m+2
			if want := m+2 <= n; ran[m] != want {
				t.Errorf("frame %d: destroyer of frame %d ran = %t, want %t", n, m, ran[m], want)
			}
		}
		cb := requestCB(t, f, QueueGraphics, 0)
		if _, err := d.Submit(cb, 0, driver.NullFence); err != nil {
			t.Fatal(err)
		}
		number := f.Number()
		ran[number] = false
		f.QueueDestroy(DestroyFunc(func() { ran[number] = true }))
		endFrame(t, f)
	}
	if !ran[1] || ran[2] || ran[3] {
		t.Fatalf("ran = %v, want only frame 1", ran)
	}

	// outside a frame destroyers go to the slot ended last
	d.QueueDestroy(DestroyFunc(func() { ran[0] = true }))
	endFrame(t, beginFrame(t, d))
	if ran[0] {
		t.Fatal("destroyer queued after frame 3 ran before frame 3's slot was reused")
	}
	endFrame(t, beginFrame(t, d))
	if !ran[0] {
		t.Fatal("destroyer queued after frame 3 did not run when its slot was reused")
	}
	if got := d.Stats().DestroyersRun; got != 4 {
		t.Fatalf("DestroyersRun = %d, want 4", got)
	}
}
