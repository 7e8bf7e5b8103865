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
	"testing"

	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/driver/simdriver"
)

func TestBufferUsageString(t *testing.T) {
	tests := []struct {
		usage driver.BufferUsageFlags
		want  string
	}{
		{0, ""},
		{driver.BufferUsageVertex, "VertexBuffer"},
		{driver.BufferUsageTransferDst | driver.BufferUsageIndex | driver.BufferUsageVertex, "TransferDst|IndexBuffer|VertexBuffer"},
	}
	for _, test := range tests {
		if got := bufferUsageString(test.usage); got != test.want {
			t.Errorf("bufferUsageString(%d) = %q, want %q", test.usage, got, test.want)
		}
	}
}

func TestBufferLifetime(t *testing.T) {
	d, sim := newTestDevice(t, simdriver.Options{}, Config{MaxFramesInFlight: 2})
	if _, err := d.CreateBuffer(driver.BufferCreateInfo{Name: "empty"}, driver.MemoryPropertyDeviceLocal); err == nil {
		t.Fatal("CreateBuffer with zero size succeeded")
	}

	f := beginFrame(t, d)
	h, err := d.CreateBuffer(driver.BufferCreateInfo{
		Name:  "uniforms",
		Size:  1000,
		Usage: driver.BufferUsageUniform,
	}, driver.MemoryPropertyHostVisible|driver.MemoryPropertyHostCoherent)
	if err != nil {
		t.Fatal(err)
	}
	b := d.Buffer(h)
	if b == nil || b.Size() != 1000 || b.Usage() != driver.BufferUsageUniform {
		t.Fatalf("Buffer = %+v", b)
	}
	if mem, _ := b.Memory(); mem == driver.NullDeviceMemory {
		t.Fatal("buffer not bound to memory")
	}

	d.RetainBuffer(h)
	d.ReleaseBuffer(h)
	if d.Buffer(h) == nil {
		t.Fatal("ReleaseBuffer destroyed a retained buffer")
	}
	d.ReleaseBuffer(h)
	if d.Buffer(h) != nil {
		t.Fatal("last ReleaseBuffer did not destroy the buffer")
	}
	mustAbort(t, func() { d.ReleaseBuffer(h) })
	mustAbort(t, func() { d.DestroyBuffer(h) })
	endFrame(t, f)

	for i := 0; i < 2; i++ {
		if sim.Live().Buffers != 1 {
			t.Fatalf("buffer destroyed %d frames early", 2-i)
		}
		endFrame(t, beginFrame(t, d))
	}
	if sim.Live().Buffers != 0 {
		t.Fatal("buffer not destroyed after its slot was reused")
	}
	if n := d.allocator.Stats().AllocationCount; n != 0 {
		t.Fatalf("AllocationCount = %d, want 0", n)
	}
}
