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

package simdriver

import (
	"slices"
	"time"

	"goarrg.com/rhi/vkcore/driver"
)

func (d *Device) CreateFence(signaled bool) (driver.Fence, error) {
	if err := d.fault("CreateFence"); err != nil {
		return 0, err
	}
	h := driver.Fence(d.id())
	d.fences[h] = &fence{signaled: signaled}
	d.createdFences++
	return h, nil
}

func (d *Device) DestroyFence(f driver.Fence) {
	if s, ok := d.fences[f]; !ok {
		d.violation("DestroyFence: unknown fence %d", f)
		return
	} else if s.pending {
		d.violation("DestroyFence: fence %d is in use", f)
	}
	delete(d.fences, f)
}

func (d *Device) ResetFences(fences []driver.Fence) error {
	for _, f := range fences {
		s, ok := d.fences[f]
		if !ok {
			d.violation("ResetFences: unknown fence %d", f)
			continue
		}
		if s.pending {
			d.violation("ResetFences: fence %d is in use", f)
		}
		s.signaled = false
	}
	return nil
}

func (d *Device) GetFenceStatus(f driver.Fence) error {
	if err := d.fault("GetFenceStatus"); err != nil {
		return err
	}
	s, ok := d.fences[f]
	if !ok {
		d.violation("GetFenceStatus: unknown fence %d", f)
		return driver.ErrorUnknown
	}
	if s.signaled {
		return nil
	}
	return driver.NotReady
}

func (d *Device) WaitForFences(fences []driver.Fence, waitAll bool, timeout time.Duration) error {
	d.fenceWaits = append(d.fenceWaits, slices.Clone(fences))
	if err := d.fault("WaitForFences"); err != nil {
		return err
	}
	d.process()

	signaled := 0
	for _, f := range fences {
		s, ok := d.fences[f]
		if !ok {
			d.violation("WaitForFences: unknown fence %d", f)
			continue
		}
		if s.signaled {
			signaled++
		}
	}
	if (waitAll && signaled == len(fences)) || (!waitAll && signaled > 0) {
		return nil
	}
	return driver.Timeout
}

func (d *Device) CreateSemaphore() (driver.Semaphore, error) {
	if err := d.fault("CreateSemaphore"); err != nil {
		return 0, err
	}
	h := driver.Semaphore(d.id())
	d.semaphores[h] = &semaphore{}
	d.createdSemaphores++
	return h, nil
}

func (d *Device) CreateTimelineSemaphore(initial uint64) (driver.Semaphore, error) {
	if !d.props.TimelineSemaphore {
		return 0, driver.ErrorFeatureNotPresent
	}
	if err := d.fault("CreateTimelineSemaphore"); err != nil {
		return 0, err
	}
	h := driver.Semaphore(d.id())
	d.semaphores[h] = &semaphore{timeline: true, value: initial}
	d.createdSemaphores++
	return h, nil
}

func (d *Device) DestroySemaphore(s driver.Semaphore) {
	sem, ok := d.semaphores[s]
	if !ok {
		d.violation("DestroySemaphore: unknown semaphore %d", s)
		return
	}
	if sem.signalPending {
		d.violation("DestroySemaphore: semaphore %d has a pending signal", s)
	}
	for _, q := range d.queues {
		for _, b := range q.pending {
			for _, w := range b.waits {
				if w.Semaphore == s {
					d.violation("DestroySemaphore: semaphore %d is waited on by a pending batch", s)
				}
			}
		}
	}
	delete(d.semaphores, s)
}

func (d *Device) GetSemaphoreValue(s driver.Semaphore) (uint64, error) {
	sem, ok := d.semaphores[s]
	if !ok || !sem.timeline {
		return 0, driver.ErrorUnknown
	}
	return sem.value, nil
}

func (d *Device) WaitSemaphore(s driver.Semaphore, value uint64, timeout time.Duration) error {
	sem, ok := d.semaphores[s]
	if !ok || !sem.timeline {
		return driver.ErrorUnknown
	}
	d.process()
	if sem.value >= value {
		return nil
	}
	return driver.Timeout
}

func (d *Device) SignalSemaphore(s driver.Semaphore, value uint64) error {
	sem, ok := d.semaphores[s]
	if !ok || !sem.timeline {
		return driver.ErrorUnknown
	}
	if value <= sem.value {
		d.violation("SignalSemaphore: value %d is not greater than current %d", value, sem.value)
	}
	sem.value = value
	if d.options.AutoComplete {
		d.process()
	}
	return nil
}

func (d *Device) validateSignals(op string, signals []driver.SemaphoreSubmitInfo) {
	for _, s := range signals {
		sem, ok := d.semaphores[s.Semaphore]
		if !ok {
			d.violation("%s: unknown signal semaphore %d", op, s.Semaphore)
			continue
		}
		if sem.timeline {
			continue
		}
		if sem.signaled || sem.signalPending {
			d.violation("%s: binary semaphore %d signaled twice before being waited on", op, s.Semaphore)
		}
		sem.signalPending = true
	}
}

func (d *Device) validateFence(op string, f driver.Fence) {
	if f == driver.NullFence {
		return
	}
	s, ok := d.fences[f]
	if !ok {
		d.violation("%s: unknown fence %d", op, f)
		return
	}
	if s.signaled || s.pending {
		d.violation("%s: fence %d is not in the unsignaled state", op, f)
	}
	s.pending = true
}

func (d *Device) QueueSubmit(q driver.Queue, submits []driver.SubmitInfo, f driver.Fence) error {
	if err := d.fault("QueueSubmit"); err != nil {
		return err
	}
	qs, ok := d.queues[q]
	if !ok {
		d.violation("QueueSubmit: unknown queue %d", q)
		return driver.ErrorUnknown
	}

	record := SubmitRecord{Queue: q, Family: qs.family, Fence: f}
	for i, s := range submits {
		for _, cb := range s.CommandBuffers {
			c, ok := d.cbs[cb]
			if !ok {
				d.violation("QueueSubmit: unknown command buffer %d", cb)
				continue
			}
			if c.recording {
				d.violation("QueueSubmit: command buffer %d is still recording", cb)
			}
			if d.pools[c.pool].family != qs.family {
				d.violation("QueueSubmit: command buffer %d from family %d submitted to family %d", cb, d.pools[c.pool].family, qs.family)
			}
			c.inFlight++
		}
		d.validateSignals("QueueSubmit", s.Signals)

		b := &batch{
			waits:   slices.Clone(s.Waits),
			cbs:     slices.Clone(s.CommandBuffers),
			signals: slices.Clone(s.Signals),
		}
		if i == len(submits)-1 {
			b.fence = f
		}
		qs.pending = append(qs.pending, b)
		record.Submits = append(record.Submits, driver.SubmitInfo{
			Waits:          b.waits,
			CommandBuffers: b.cbs,
			Signals:        b.signals,
		})
	}
	if len(submits) == 0 && f != driver.NullFence {
		qs.pending = append(qs.pending, &batch{fence: f})
	}
	d.validateFence("QueueSubmit", f)
	d.submits = append(d.submits, record)

	if d.options.AutoComplete {
		d.process()
	}
	return nil
}

func (d *Device) QueueBindSparse(q driver.Queue, binds []driver.BindSparseInfo, f driver.Fence) error {
	if err := d.fault("QueueBindSparse"); err != nil {
		return err
	}
	qs, ok := d.queues[q]
	if !ok {
		d.violation("QueueBindSparse: unknown queue %d", q)
		return driver.ErrorUnknown
	}
	if !d.familyFlags(qs.family).HasBits(driver.QueueSparseBindingBit) {
		d.violation("QueueBindSparse: queue family %d does not support sparse binding", qs.family)
	}

	record := BindRecord{Queue: q, Fence: f}
	for i := range binds {
		b := binds[i]
		for _, w := range b.Waits {
			if sem, ok := d.semaphores[w.Semaphore]; ok && sem.timeline {
				d.violation("QueueBindSparse: timeline waits are not supported by this driver")
			}
		}
		d.validateSignals("QueueBindSparse", b.Signals)
		for _, ib := range b.ImageBinds {
			if _, ok := d.images[ib.Image]; !ok {
				d.violation("QueueBindSparse: unknown image %d", ib.Image)
			}
			for _, p := range ib.Binds {
				if p.Memory != driver.NullDeviceMemory {
					if _, ok := d.memory[p.Memory]; !ok {
						d.violation("QueueBindSparse: unknown memory %d", p.Memory)
					}
				}
			}
		}
		bb := &batch{
			waits:   slices.Clone(b.Waits),
			signals: slices.Clone(b.Signals),
			binds:   &b,
		}
		if i == len(binds)-1 {
			bb.fence = f
		}
		qs.pending = append(qs.pending, bb)
		record.Binds = append(record.Binds, b)
	}
	if len(binds) == 0 && f != driver.NullFence {
		qs.pending = append(qs.pending, &batch{fence: f})
	}
	d.validateFence("QueueBindSparse", f)
	d.binds = append(d.binds, record)

	if d.options.AutoComplete {
		d.process()
	}
	return nil
}

func (d *Device) QueueWaitIdle(q driver.Queue) error {
	if err := d.fault("QueueWaitIdle"); err != nil {
		return err
	}
	d.process()
	if qs, ok := d.queues[q]; ok && len(qs.pending) > 0 {
		return driver.Timeout
	}
	return nil
}

func (d *Device) DeviceWaitIdle() error {
	if err := d.fault("DeviceWaitIdle"); err != nil {
		return err
	}
	d.process()
	if d.Pending() > 0 {
		return driver.Timeout
	}
	return nil
}

func (d *Device) familyFlags(family uint32) driver.QueueFlags {
	for _, f := range d.props.QueueFamilies {
		if f.Index == family {
			return f.Flags
		}
	}
	return 0
}

func (d *Device) ready(b *batch) bool {
	for _, w := range b.waits {
		sem, ok := d.semaphores[w.Semaphore]
		if !ok {
			return false
		}
		if sem.timeline {
			if sem.value < w.Value {
				return false
			}
		} else if !sem.signaled {
			return false
		}
	}
	return true
}

func (d *Device) execute(b *batch) {
	for _, w := range b.waits {
		if sem := d.semaphores[w.Semaphore]; !sem.timeline {
			sem.signaled = false
		}
	}
	for _, cb := range b.cbs {
		if c, ok := d.cbs[cb]; ok {
			for _, op := range c.ops {
				op()
			}
			c.inFlight--
		}
	}
	if b.binds != nil {
		d.applyBinds(b.binds)
	}
	for _, s := range b.signals {
		sem, ok := d.semaphores[s.Semaphore]
		if !ok {
			continue
		}
		if sem.timeline {
			sem.value = max(sem.value, s.Value)
		} else {
			sem.signalPending = false
			sem.signaled = true
		}
	}
	if b.fence != driver.NullFence {
		if f, ok := d.fences[b.fence]; ok {
			f.pending = false
			f.signaled = true
		}
	}
}

// process executes batches in per queue submission order until no queue can make progress.
func (d *Device) process() {
	for progress := true; progress; {
		progress = false
		for _, h := range d.queueOrder {
			q := d.queues[h]
			for len(q.pending) > 0 && d.ready(q.pending[0]) {
				b := q.pending[0]
				q.pending = q.pending[1:]
				d.execute(b)
				progress = true
			}
		}
	}
}
