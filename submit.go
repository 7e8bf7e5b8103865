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
	"goarrg.com/rhi/vkcore/driver"
)

/*
Submit ends recording of cb and batches it on its queue. When signalCount
semaphores or a fence are requested the queue is submitted immediately and the
returned semaphores are signaled by that submission, otherwise cb goes out with
the next flush of the queue.
*/
func (d *Device) Submit(cb *CommandBuffer, signalCount int, fence driver.Fence) ([]driver.Semaphore, error) {
	return d.submit("Submit", cb, signalCount, fence, false)
}

// SubmitFlush submits every batched command buffer of the queue, then submits
// cb alone.
func (d *Device) SubmitFlush(cb *CommandBuffer, signalCount int, fence driver.Fence) ([]driver.Semaphore, error) {
	return d.submit("SubmitFlush", cb, signalCount, fence, true)
}

func (d *Device) submit(op string, cb *CommandBuffer, signalCount int, fence driver.Fence, flush bool) ([]driver.Semaphore, error) {
	d.noCopy.Check()
	cb.noCopy.Check()
	f := d.activeFrame(op)
	if cb.frame != f {
		abort("%s called with a command buffer from another frame", op)
	}
	if signalCount < 0 {
		abort("%s called with a negative signal count: %d", op, signalCount)
	}
	defer cb.noCopy.Close()

	if err := d.usable(); err != nil {
		return nil, err
	}
	if flush {
		if err := d.SubmitQueue(cb.typ, driver.NullFence); err != nil {
			return nil, err
		}
	}
	if err := d.drv.EndCommandBuffer(cb.cb); err != nil {
		return nil, d.wrapResult(err, "Failed to end command buffer")
	}
	f.res.submitted[cb.typ] = append(f.res.submitted[cb.typ], recordedCommandBuffer{cb: cb.cb, swapchain: cb.swapchain})

	if !flush && signalCount == 0 && fence == driver.NullFence {
		return nil, nil
	}

	semaphores := make([]driver.Semaphore, 0, signalCount)
	signals := make([]driver.SemaphoreSubmitInfo, 0, signalCount)
	for range signalCount {
		s, err := d.semaphores.RequestSemaphore()
		if err != nil {
			for _, s := range semaphores {
				d.semaphores.RecycleSemaphore(s)
			}
			return nil, err
		}
		semaphores = append(semaphores, s)
		signals = append(signals, driver.SemaphoreSubmitInfo{Semaphore: s, Stage: driver.PipelineStageAllCommands})
	}
	if err := d.SubmitQueue(cb.typ, fence, signals...); err != nil {
		for _, s := range semaphores {
			d.semaphores.RecycleSemaphore(s)
		}
		return nil, err
	}
	return semaphores, nil
}

/*
SubmitQueue submits every command buffer batched on queue t.

The first command buffer using the swapchain splits the batch when the frame
has an acquire semaphore that was not consumed yet: the buffers before it go out
with the queue's pending waits, the rest additionally wait on the acquire and
signal the frame's present semaphore. Caller signals and the fence attach to the
last submission. With nothing batched but a fence or signals requested, an
empty submission carries the pending waits.
*/
func (d *Device) SubmitQueue(t QueueType, fence driver.Fence, signals ...driver.SemaphoreSubmitInfo) error {
	d.noCopy.Check()
	f := d.activeFrame("SubmitQueue")
	if t >= queueTypeCount {
		abort("Invalid queue type: %d", t)
	}
	if err := d.usable(); err != nil {
		return err
	}

	q := &d.queues[t]
	res := f.res
	recorded := res.submitted[t]
	if len(recorded) == 0 && len(q.waits) == 0 && fence == driver.NullFence && len(signals) == 0 {
		return nil
	}
	d.fences.checkSubmit(fence)
	for _, s := range signals {
		d.semaphores.checkSignal(s.Semaphore)
	}

	split := -1
	if res.acquire != driver.NullSemaphore && !res.acquireConsumed {
		for i, r := range recorded {
			if r.swapchain {
				split = i
				break
			}
		}
	}

	cbs := make([]driver.CommandBuffer, len(recorded))
	for i, r := range recorded {
		cbs[i] = r.cb
	}

	var submits []driver.SubmitInfo
	present := driver.NullSemaphore
	if split >= 0 {
		var err error
		if present, err = d.semaphores.RequestSemaphore(); err != nil {
			return err
		}
		acquire := driver.SemaphoreSubmitInfo{Semaphore: res.acquire, Stage: driver.PipelineStageColorOutput}
		swapchain := driver.SubmitInfo{
			Waits:          []driver.SemaphoreSubmitInfo{acquire},
			CommandBuffers: cbs[split:],
			Signals:        []driver.SemaphoreSubmitInfo{{Semaphore: present, Stage: driver.PipelineStageColorOutput}},
		}
		if split > 0 {
			submits = append(submits, driver.SubmitInfo{Waits: q.waitInfos(), CommandBuffers: cbs[:split]})
		} else {
			swapchain.Waits = append(q.waitInfos(), acquire)
		}
		submits = append(submits, swapchain)
	} else {
		submits = append(submits, driver.SubmitInfo{Waits: q.waitInfos(), CommandBuffers: cbs})
	}
	last := &submits[len(submits)-1]
	last.Signals = append(last.Signals, signals...)

	err := d.drv.QueueSubmit(q.queue, submits, fence)
	d.retireWaits(q, res)
	res.submitted[t] = res.submitted[t][:0]
	if err != nil {
		if present != driver.NullSemaphore {
			d.semaphores.RecycleSemaphore(present)
		}
		return d.wrapResult(err, "Failed to submit %d command buffers to the %s queue", len(cbs), t)
	}

	d.fences.markSubmitted(fence)
	for _, s := range signals {
		if s.Value == 0 && d.semaphores.owns(s.Semaphore) {
			d.semaphores.markSignaled(s.Semaphore, res.number)
			res.signaled = append(res.signaled, s.Semaphore)
		}
	}
	if present != driver.NullSemaphore {
		d.semaphores.markSignaled(present, res.number)
		res.signaled = append(res.signaled, present)
		res.present = present
		res.acquireConsumed = true
		d.stats.SwapchainSplits++
	}
	q.needsFence = true
	if len(cbs) == 0 {
		d.stats.EmptySubmits++
	} else {
		d.stats.Submits++
	}
	return nil
}

// retireWaits clears the pending waits of q, the owned ones are destroyed once
// res is reused.
func (d *Device) retireWaits(q *queueState, res *frameResource) {
	for _, w := range q.waits {
		if !w.owned {
			continue
		}
		s := w.info.Semaphore
		res.deletion.push(DestroyFunc(func() {
			d.semaphores.DestroySemaphore(s)
		}))
	}
	q.waits = q.waits[:0]
}

/*
AddWaitSemaphore makes the next submission on queue t wait on the binary
semaphore s at stage. With flush set, command buffers already batched on t are
submitted first so they do not wait.
*/
func (d *Device) AddWaitSemaphore(t QueueType, s driver.Semaphore, stage driver.PipelineStage, flush bool) error {
	d.noCopy.Check()
	if t >= queueTypeCount {
		abort("Invalid queue type: %d", t)
	}
	if err := d.usable(); err != nil {
		return err
	}
	if flush {
		d.activeFrame("AddWaitSemaphore")
		if err := d.SubmitQueue(t, driver.NullFence); err != nil {
			return err
		}
	}

	owned := d.semaphores.owns(s)
	if owned {
		d.semaphores.checkWait(s)
		d.semaphores.markWaited(s)
	}
	q := &d.queues[t]
	q.waits = append(q.waits, pendingWait{
		info:  driver.SemaphoreSubmitInfo{Semaphore: s, Stage: stage},
		owned: owned,
	})
	q.needsFence = true
	return nil
}

// AddTimelineWait makes the next submission on queue t wait until s reaches
// value, the semaphore is never destroyed by the queue.
func (d *Device) AddTimelineWait(t QueueType, s *TimelineSemaphore, value uint64, stage driver.PipelineStage) error {
	d.noCopy.Check()
	if t >= queueTypeCount {
		abort("Invalid queue type: %d", t)
	}
	if err := d.usable(); err != nil {
		return err
	}
	if value == 0 {
		abort("AddTimelineWait with value 0")
	}
	q := &d.queues[t]
	q.waits = append(q.waits, pendingWait{
		info: driver.SemaphoreSubmitInfo{Semaphore: s.Semaphore(), Value: value, Stage: stage},
	})
	q.needsFence = true
	return nil
}
