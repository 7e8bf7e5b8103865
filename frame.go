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
	"goarrg.com/debug"
	"goarrg.com/rhi/vkcore/driver"
	"goarrg.com/rhi/vkcore/internal/util"
)

// frameResource is one slot of the frames in flight ring.
type frameResource struct {
	index int
	// number of the frame that last used the slot
	number uint64

	pools      [queueTypeCount][]*commandPool
	timestamps []*timestampPool
	results    [][]uint64
	submitted  [queueTypeCount][]recordedCommandBuffer

	// fences the next use of the slot waits on before touching anything above
	waitFences []driver.Fence
	signaled   []driver.Semaphore
	deletion   deletionQueue

	acquire         driver.Semaphore
	acquireConsumed bool
	present         driver.Semaphore
}

func newFrameResource(index, threads int) *frameResource {
	r := &frameResource{
		index:      index,
		timestamps: make([]*timestampPool, threads),
		results:    make([][]uint64, threads),
	}
	for t := range r.pools {
		r.pools[t] = make([]*commandPool, threads)
	}
	return r
}

// retire blocks until the GPU is done with the slot's previous use and
// releases everything that use held on to.
func (r *frameResource) retire(d *Device) error {
	if err := d.fences.Wait(r.waitFences...); err != nil {
		return err
	}
	for _, f := range r.waitFences {
		d.fences.Recycle(f)
	}
	r.waitFences = r.waitFences[:0]

	d.semaphores.destroyStale(r.signaled, r.number)
	r.signaled = r.signaled[:0]
	r.present = driver.NullSemaphore

	d.stats.DestroyersRun += r.deletion.flush()
	if _, err := d.fences.poll(); err != nil {
		return err
	}

	for i, p := range r.timestamps {
		if p == nil {
			continue
		}
		values, err := p.readback(d)
		if err != nil {
			return err
		}
		r.results[i] = values
	}

	for t := range r.pools {
		for _, p := range r.pools[t] {
			if p == nil {
				continue
			}
			if err := p.reset(); err != nil {
				return err
			}
		}
		r.submitted[t] = r.submitted[t][:0]
	}
	r.acquire = driver.NullSemaphore
	r.acquireConsumed = false
	return nil
}

func (r *frameResource) destroy(d *Device) {
	d.stats.DestroyersRun += r.deletion.flush()
	for t := range r.pools {
		for i, p := range r.pools[t] {
			if p != nil {
				p.destroy()
				r.pools[t][i] = nil
			}
		}
	}
	for i, p := range r.timestamps {
		if p != nil {
			p.destroy(d)
			r.timestamps[i] = nil
		}
	}
	r.waitFences = nil
	r.signaled = nil
}

type Frame struct {
	noCopy util.NoCopy
	device *Device
	res    *frameResource
}

/*
BeginFrame waits until the GPU is done with the oldest frame slot and returns
it ready for recording. The slot count, Config.MaxFramesInFlight, is the only
throttle on how far the host may run ahead of the GPU.
*/
func (d *Device) BeginFrame() (*Frame, error) {
	d.noCopy.Check()
	if d.current != nil {
		abort("BeginFrame called when there's an active frame")
	}
	if err := d.usable(); err != nil {
		return nil, err
	}

	res := d.frames[d.frameIndex]
	if err := res.retire(d); err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to begin frame in slot %d", res.index)
	}
	d.frameNumber++
	res.number = d.frameNumber

	f := Frame{device: d, res: res}
	f.noCopy.Init()
	d.current = &f
	d.stats.FramesBegun++
	return &f, nil
}

// Index is the frame slot in [0, Config.MaxFramesInFlight).
func (f *Frame) Index() int {
	f.noCopy.Check()
	return f.res.index
}

func (f *Frame) Number() uint64 {
	f.noCopy.Check()
	return f.res.number
}

// SetSwapchainAcquire sets the semaphore signaled by the swapchain image
// acquire, the first submission using the swapchain waits on it.
func (f *Frame) SetSwapchainAcquire(s driver.Semaphore) {
	f.noCopy.Check()
	if f.res.acquireConsumed {
		abort("SetSwapchainAcquire called after the acquire semaphore was consumed")
	}
	f.res.acquire = s
}

// PresentSemaphore returns the semaphore signaled once every submission
// touching the swapchain is done, or NullSemaphore if none was submitted yet.
func (f *Frame) PresentSemaphore() driver.Semaphore {
	f.noCopy.Check()
	return f.res.present
}

// Timestamps returns the timestamps thread wrote during the previous use of
// this frame slot, indexed by the values CommandBuffer.WriteTimestamp returned.
func (f *Frame) Timestamps(thread int) []uint64 {
	f.noCopy.Check()
	if thread < 0 || thread >= len(f.res.results) {
		abort("Thread index %d out of range [0, %d)", thread, len(f.res.results))
	}
	return f.res.results[thread]
}

/*
QueueDestroy is a convenience function to avoid having to store destroyers
until the frame slot is reused, it is eq to Device.QueueDestroy during the frame.
*/
func (f *Frame) QueueDestroy(destroyers ...Destroyer) {
	f.noCopy.Check()
	f.res.deletion.push(destroyers...)
}

/*
End flushes every queue with batched command buffers, pending waits, or work
submitted during the frame. Each flush is fenced and the fences are waited on
by the next BeginFrame of this slot. The frame is invalid after End even when
an error is returned.
*/
func (f *Frame) End() error {
	f.noCopy.Check()
	d := f.device
	defer func() {
		d.frameIndex = (d.frameIndex + 1) % len(d.frames)
		d.current = nil
		d.stats.FramesEnded++
		f.noCopy.Close()
	}()

	if err := d.usable(); err != nil {
		return err
	}

	for t := range d.queues {
		q := &d.queues[t]
		if len(f.res.submitted[t]) == 0 && len(q.waits) == 0 && !q.needsFence {
			continue
		}
		fence, err := d.fences.RequestRawFence()
		if err != nil {
			return err
		}
		f.res.waitFences = append(f.res.waitFences, fence)
		if err := d.SubmitQueue(QueueType(t), fence); err != nil {
			return err
		}
		q.needsFence = false
	}

	if f.res.acquire != driver.NullSemaphore && !f.res.acquireConsumed {
		instance.logger.WPrintf("Frame %d ended without consuming the swapchain acquire semaphore", f.res.number)
	}
	return nil
}

// activeFrame returns the current frame or aborts, op names the caller.
func (d *Device) activeFrame(op string) *Frame {
	if d.current == nil {
		abort("%s called outside of a frame", op)
	}
	return d.current
}
