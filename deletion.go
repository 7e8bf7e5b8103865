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

import "goarrg.com/rhi/vkcore/internal/container"

type Destroyer interface {
	Destroy()
}

type destroyFunc struct {
	f func()
}

func (d destroyFunc) Destroy() {
	d.f()
}

// DestroyFunc adapts f to a Destroyer.
func DestroyFunc(f func()) Destroyer {
	return destroyFunc{f}
}

// deletionQueue belongs to one frame slot, it is flushed once the fences of the
// slot's previous use were observed.
type deletionQueue struct {
	destroyers container.Stack[Destroyer]
}

func (q *deletionQueue) push(d ...Destroyer) {
	q.destroyers.Push(d...)
}

func (q *deletionQueue) len() int {
	return q.destroyers.Len()
}

// flush runs the destroyers in the order they were queued, destroyers queued
// while flushing run in the same flush.
func (q *deletionQueue) flush() int {
	n := 0
	for !q.destroyers.Empty() {
		for _, d := range q.destroyers.Drain() {
			d.Destroy()
			n++
		}
	}
	return n
}

// deletionSlot returns the slot whose next reuse is gated on fences covering
// all work submitted so far. Outside a frame that is the slot ended last.
func (d *Device) deletionSlot() *frameResource {
	if d.current != nil {
		return d.current.res
	}
	return d.frames[(d.frameIndex+len(d.frames)-1)%len(d.frames)]
}

// QueueDestroy defers destroyers until the GPU is done with every frame
// submitted so far.
func (d *Device) QueueDestroy(destroyers ...Destroyer) {
	d.noCopy.Check()
	d.deletionSlot().deletion.push(destroyers...)
}
