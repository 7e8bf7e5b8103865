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
	"errors"
	"testing"
	"time"

	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/driver/simdriver"
)

func TestFenceRecycle(t *testing.T) {
	d, sim := newTestDevice(t, simdriver.Options{}, Config{})
	f := beginFrame(t, d)

	fence, err := d.Fences().RequestRawFence()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SubmitQueue(QueueGraphics, fence); err != nil {
		t.Fatal(err)
	}
	if err := d.Fences().Wait(fence); err != nil {
		t.Fatal(err)
	}
	d.Fences().Recycle(fence)

	again, err := d.Fences().RequestRawFence()
	if err != nil {
		t.Fatal(err)
	}
	if again != fence {
		t.Fatalf("RequestRawFence = %d, want recycled fence %d", again, fence)
	}
	d.Fences().Recycle(again)
	endFrame(t, f)

	// the fenced submit leaves graphics needing a fence of its own at frame end
	if slot := d.frames[0]; len(slot.waitFences) != 1 || slot.waitFences[0] != fence {
		t.Fatalf("slot wait fences = %v, want [%d]", slot.waitFences, fence)
	}
	if n := sim.CreatedFences(); n != 1 {
		t.Fatalf("driver created %d fences, want 1", n)
	}
	if got := d.Stats().EmptySubmits; got != 2 {
		t.Fatalf("EmptySubmits = %d, want 2", got)
	}
}

func TestFenceMisuse(t *testing.T) {
	d, _ := newTestDevice(t, simdriver.Options{}, Config{})
	f := beginFrame(t, d)

	fence, err := d.Fences().RequestRawFence()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SubmitQueue(QueueGraphics, fence); err != nil {
		t.Fatal(err)
	}
	mustAbort(t, func() { d.Fences().Recycle(fence) })
	mustAbort(t, func() { d.SubmitQueue(QueueGraphics, fence) })
	mustAbort(t, func() { d.Fences().Recycle(driver.Fence(0xDEAD)) })

	if err := d.Fences().Wait(fence); err != nil {
		t.Fatal(err)
	}
	d.Fences().Recycle(fence)
	mustAbort(t, func() { d.Fences().AddFenceCallback(fence, func() {}) })
	endFrame(t, f)
}

func TestScopedFence(t *testing.T) {
	d, _ := newTestDevice(t, simdriver.Options{}, Config{})
	f := beginFrame(t, d)

	sf, err := d.Fences().RequestFence()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SubmitQueue(QueueCompute, sf.Fence()); err != nil {
		t.Fatal(err)
	}
	fence := sf.Fence()
	if err := sf.Close(); err != nil {
		t.Fatal(err)
	}
	mustAbort(t, func() { sf.Fence() })
	if got := d.fences.states[fence]; got != fenceFree {
		t.Fatalf("fence state after Close = %s, want free", got)
	}

	released, err := d.Fences().RequestFence()
	if err != nil {
		t.Fatal(err)
	}
	raw := released.Release()
	if err := released.Close(); err != nil {
		t.Fatal(err)
	}
	if got := d.fences.states[raw]; got != fenceRequested {
		t.Fatalf("fence state after Release and Close = %s, want requested", got)
	}
	d.Fences().Recycle(raw)
	endFrame(t, f)
}

func TestFenceCallback(t *testing.T) {
	d, sim := newTestDevice(t, simdriver.Options{}, Config{})
	f := beginFrame(t, d)

	fence, err := d.Fences().RequestRawFence()
	if err != nil {
		t.Fatal(err)
	}
	cb := requestCB(t, f, QueueGraphics, 0)
	if _, err := d.Submit(cb, 0, fence); err != nil {
		t.Fatal(err)
	}
	called := 0
	d.Fences().AddFenceCallback(fence, func() { called++ })

	if n, err := d.Fences().Poll(); err != nil || n != 0 {
		t.Fatalf("Poll before completion = %d, %v", n, err)
	}
	if called != 0 || d.Fences().Pending() != 1 {
		t.Fatalf("called = %d Pending = %d before completion", called, d.Fences().Pending())
	}

	sim.Complete()
	if n, err := d.Fences().Poll(); err != nil || n != 1 {
		t.Fatalf("Poll after completion = %d, %v", n, err)
	}
	if called != 1 || d.Fences().Pending() != 0 {
		t.Fatalf("called = %d Pending = %d after completion", called, d.Fences().Pending())
	}
	if got := d.fences.states[fence]; got != fenceFree {
		t.Fatalf("fence state after callback = %s, want free", got)
	}
	endFrame(t, f)
}

func TestFenceWaitSkipsUnsubmitted(t *testing.T) {
	d, sim := newTestDevice(t, simdriver.Options{}, Config{})
	fence, err := d.Fences().RequestRawFence()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Fences().Wait(fence); err != nil {
		t.Fatal(err)
	}
	if n := len(sim.FenceWaits()); n != 0 {
		t.Fatalf("driver saw %d fence waits, want 0", n)
	}
	d.Fences().Recycle(fence)
}

func TestFenceTimeout(t *testing.T) {
	d, sim := newTestDevice(t, simdriver.Options{}, Config{FenceTimeout: time.Millisecond})
	f := beginFrame(t, d)

	// a wait only the host can satisfy
	s, err := sim.CreateSemaphore()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.AddWaitSemaphore(QueueGraphics, s, driver.PipelineStageAllCommands, false); err != nil {
		t.Fatal(err)
	}
	fence, err := d.Fences().RequestRawFence()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.SubmitQueue(QueueGraphics, fence); err != nil {
		t.Fatal(err)
	}

	err = d.Fences().Wait(fence)
	if err == nil {
		t.Fatal("Wait on a blocked fence succeeded")
	}
	if errors.Is(err, ErrorDeviceLost{}) || d.Lost() {
		t.Fatalf("timeout reported as device lost: %v", err)
	}

	if err := sim.QueueSubmit(sim.GetQueue(d.QueueFamily(QueueCompute), 0), []driver.SubmitInfo{{
		Signals: []driver.SemaphoreSubmitInfo{{Semaphore: s}},
	}}, driver.NullFence); err != nil {
		t.Fatal(err)
	}
	if err := d.Fences().Wait(fence); err != nil {
		t.Fatal(err)
	}
	d.Fences().Recycle(fence)
	f.QueueDestroy(DestroyFunc(func() { sim.DestroySemaphore(s) }))
	endFrame(t, f)
}
