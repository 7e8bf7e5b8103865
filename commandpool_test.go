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

func recordFrame(t *testing.T, d *Device, f *Frame, typ QueueType, counts ...int) [][]driver.CommandBuffer {
	t.Helper()
	handles := make([][]driver.CommandBuffer, len(counts))
	for thread, n := range counts {
		for i := 0; i < n; i++ {
			cb := requestCB(t, f, typ, thread)
			handles[thread] = append(handles[thread], cb.Handle())
			if cb.QueueType() != typ {
				t.Fatalf("QueueType() = %s, want %s", cb.QueueType(), typ)
			}
			if _, err := d.Submit(cb, 0, driver.NullFence); err != nil {
				t.Fatal(err)
			}
		}
	}
	return handles
}

func TestCommandPoolReuse(t *testing.T) {
	d, _ := newTestDevice(t, simdriver.Options{}, Config{MaxFramesInFlight: 2, NumThreads: 2})

	f := beginFrame(t, d)
	first := recordFrame(t, d, f, QueueGraphics, 2, 1)
	endFrame(t, f)

	f = beginFrame(t, d)
	second := recordFrame(t, d, f, QueueGraphics, 2, 1)
	endFrame(t, f)
	if slices.Contains(second[0], first[0][0]) || slices.Contains(second[0], first[0][1]) {
		t.Fatalf("slot 1 handed out slot 0's command buffers: %v %v", first[0], second[0])
	}

	f = beginFrame(t, d)
	third := recordFrame(t, d, f, QueueGraphics, 3, 1)
	endFrame(t, f)
	if !slices.Equal(third[0][:2], first[0]) || !slices.Equal(third[1], first[1]) {
		t.Fatalf("frame 3 = %v, want the buffers of frame 1 %v", third, first)
	}
	if slices.Contains(first[0], third[0][2]) {
		t.Fatalf("third command buffer %d was not newly allocated", third[0][2])
	}
	if slices.Contains(first[0], first[1][0]) {
		t.Fatal("threads share a command buffer")
	}

	pools := d.frames[0].pools[QueueGraphics]
	if pools[0] == nil || pools[1] == nil || pools[0].pool == pools[1].pool {
		t.Fatal("threads share a command pool")
	}
	if pools[0].family != d.QueueFamily(QueueGraphics) {
		t.Fatalf("pool family = %d, want %d", pools[0].family, d.QueueFamily(QueueGraphics))
	}
	if len(pools[0].buffers) != 3 {
		t.Fatalf("pool holds %d command buffers, want 3", len(pools[0].buffers))
	}
	if d.frames[0].pools[QueueCompute][0] != nil {
		t.Fatal("compute pool created without a compute command buffer")
	}
}

func TestCommandBufferMisuse(t *testing.T) {
	d, _ := newTestDevice(t, simdriver.Options{}, Config{})
	f := beginFrame(t, d)
	mustAbort(t, func() { f.RequestCommandBuffer(QueueGraphics, 1) })
	mustAbort(t, func() { f.RequestCommandBuffer(QueueGraphics, -1) })
	mustAbort(t, func() { f.RequestCommandBuffer(queueTypeCount, 0) })

	cb := requestCB(t, f, QueueCompute, 0)
	if _, err := d.Submit(cb, 0, driver.NullFence); err != nil {
		t.Fatal(err)
	}
	mustAbort(t, func() { d.Submit(cb, 0, driver.NullFence) })
	mustAbort(t, func() { cb.Handle() })

	stale := requestCB(t, f, QueueCompute, 0)
	mustAbort(t, func() { d.Submit(stale, -1, driver.NullFence) })
	if _, err := d.Submit(stale, 0, driver.NullFence); err != nil {
		t.Fatal(err)
	}
	endFrame(t, f)

	f = beginFrame(t, d)
	old := requestCB(t, f, QueueTransfer, 0)
	endFrame(t, f)

	f = beginFrame(t, d)
	mustAbort(t, func() { d.Submit(old, 0, driver.NullFence) })
	endFrame(t, f)
}
