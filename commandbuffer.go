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
	"goarrg.com/rhi/vkcore/internal/util"
)

// CommandBuffer is a recording command buffer of the current frame, it becomes
// invalid once handed to Device.Submit or Device.SubmitFlush.
type CommandBuffer struct {
	noCopy    util.NoCopy
	frame     *Frame
	cb        driver.CommandBuffer
	typ       QueueType
	thread    int
	swapchain bool
}

type recordedCommandBuffer struct {
	cb        driver.CommandBuffer
	swapchain bool
}

// RequestCommandBuffer returns a command buffer for queue type t recorded by
// thread, thread must be in [0, Config.NumThreads).
func (f *Frame) RequestCommandBuffer(t QueueType, thread int) (*CommandBuffer, error) {
	f.noCopy.Check()
	d := f.device
	if t >= queueTypeCount {
		abort("Invalid queue type: %d", t)
	}
	if thread < 0 || thread >= int(d.config.NumThreads) {
		abort("Thread index %d out of range [0, %d)", thread, d.config.NumThreads)
	}
	if err := d.usable(); err != nil {
		return nil, err
	}

	pool := f.res.pools[t][thread]
	if pool == nil {
		p, err := newCommandPool(d, d.queues[t].family)
		if err != nil {
			return nil, err
		}
		f.res.pools[t][thread] = p
		pool = p
	}
	vkCB, err := pool.request()
	if err != nil {
		return nil, err
	}

	cb := CommandBuffer{frame: f, cb: vkCB, typ: t, thread: thread}
	cb.noCopy.Init()
	return &cb, nil
}

func (cb *CommandBuffer) Handle() driver.CommandBuffer {
	cb.noCopy.Check()
	return cb.cb
}

func (cb *CommandBuffer) QueueType() QueueType {
	cb.noCopy.Check()
	return cb.typ
}

// UseSwapchain marks cb as touching the swapchain image, its submission has to
// wait on the frame's acquire semaphore.
func (cb *CommandBuffer) UseSwapchain() {
	cb.noCopy.Check()
	cb.swapchain = true
}

// WriteTimestamp records a timestamp into the thread's query pool and returns
// its index into Frame.Timestamps once the frame slot is reused.
func (cb *CommandBuffer) WriteTimestamp(stage driver.PipelineStage) (uint32, error) {
	cb.noCopy.Check()
	res := cb.frame.res
	pool := res.timestamps[cb.thread]
	if pool == nil {
		p, err := cb.frame.device.newTimestampPool()
		if err != nil {
			return 0, err
		}
		res.timestamps[cb.thread] = p
		pool = p
	}
	return pool.write(cb.frame.device, cb.cb, stage), nil
}
